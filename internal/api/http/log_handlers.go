package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

// LogExport is the document ExportLogs writes.
type LogExport struct {
	ExportedAt time.Time                 `json:"exportedAt"`
	Stats      sandbox.Stats             `json:"stats"`
	Access     []proxylog.AccessEntry    `json:"access"`
	Calls      []proxylog.CallEntry      `json:"calls"`
	Undefined  []proxylog.UndefinedEntry `json:"undefined"`
	Console    []sandbox.ConsoleEntry    `json:"console"`
}

// UndefinedLog returns the undefined log as text, one path per line, or as
// JSON with ?format=json
func (h *Handlers) UndefinedLog(c *gin.Context) {
	if c.Query("format") == "json" {
		var list []proxylog.UndefinedEntry
		h.runner.Do(func(sb *sandbox.Manager) error {
			list = sb.Undefined(proxylog.Filter{UnfixedOnly: queryBool(c, "unfixed")})
			return nil
		})
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "total": len(list)})
		return
	}

	var text string
	h.runner.Do(func(sb *sandbox.Manager) error {
		text = sb.ExportUndefinedText()
		return nil
	})
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ExportLogs streams every log store as one compressed JSON document
func (h *Handlers) ExportLogs(c *gin.Context) {
	comp, err := snapshot.ParseCompression(c.Query("compression"))
	if err != nil {
		h.failErr(c, err)
		return
	}

	doc := LogExport{ExportedAt: time.Now().UTC()}
	h.runner.Do(func(sb *sandbox.Manager) error {
		doc.Stats = sb.Stats()
		doc.Access = sb.Access(proxylog.Filter{})
		doc.Calls = sb.Calls(proxylog.Filter{})
		doc.Undefined = sb.Undefined(proxylog.Filter{})
		doc.Console = sb.Console(0)
		return nil
	})

	name := fmt.Sprintf("sandbox-logs-%s.json.%s", doc.ExportedAt.Format("20060102-150405"), extension(comp))
	attachment(c, name, comp)
	if err := snapshot.WriteCompressed(c.Writer, comp, doc); err != nil {
		h.logger.Error("Log export failed", zap.Error(err))
		_ = c.Error(err)
	}
}
