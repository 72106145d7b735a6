package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pwno-io/pwno-mcp/internal/debugger/controller"
	"github.com/pwno-io/pwno-mcp/internal/debugger/tools"
)

// attachRequest is the POST /attach body: a pre-list of console commands,
// a target pid, an after-list run only on successful attach, and an
// optional binary to load first.
type attachRequest struct {
	Pre   []string `json:"pre"`
	PID   int      `json:"pid"`
	After []string `json:"after"`
	Where string   `json:"where"`
}

type attachInfo struct {
	Command string `json:"command,omitempty"`
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

type attachResponse struct {
	Successful bool                                `json:"successful"`
	Attach     attachInfo                          `json:"attach"`
	Result     map[string]controller.CommandOutcome `json:"result"`
}

// handleAttach batch-orchestrates a debugger attach: optionally load a
// binary, run a pre-list of console commands, attach to pid, and — only on
// successful attach — run an after-list. Individual command failures are
// captured per-command and never abort the batch.
func handleAttach(debugger *tools.Tools) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req attachRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.PID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pid must be > 0"})
			return
		}

		ctx := c.Request.Context()
		result := make(map[string]controller.CommandOutcome)

		if req.Where != "" {
			result["set-file"] = debugger.SetFile(ctx, req.Where)
		}
		for _, cmd := range req.Pre {
			result[cmd] = debugger.Execute(ctx, cmd)
		}

		attachResult := debugger.Attach(ctx, req.PID)
		info := attachInfo{
			Command: "attach",
			Success: attachResult.Outcome.Success,
			State:   string(attachResult.Outcome.State),
			PID:     req.PID,
		}
		if !attachResult.Outcome.Success {
			info.Error = attachResult.Outcome.Error
		}

		if attachResult.Outcome.Success {
			for _, cmd := range req.After {
				result[cmd] = debugger.Execute(ctx, cmd)
			}
		}

		c.JSON(http.StatusOK, attachResponse{
			Successful: attachResult.Outcome.Success,
			Attach:     info,
			Result:     result,
		})
	}
}
