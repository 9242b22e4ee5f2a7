package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

const exportPageSize = 500

var exportHeader = []string{
	"id", "created_at", "event", "identity_id", "org_id", "provider",
	"success", "ip_address", "user_agent", "risk", "metadata",
}

// ExportCSV vuelca el trail filtrado como CSV, paginando contra el
// store para no cargar todo en memoria.
func ExportCSV(ctx context.Context, repo repository.AuditRepository, filter repository.ListAuditFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("audit export: header: %w", err)
	}

	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		events, total, err := repo.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("audit export: page %d: %w", page, err)
		}
		for i := range events {
			if err := cw.Write(exportRow(&events[i])); err != nil {
				return fmt.Errorf("audit export: write: %w", err)
			}
		}
		if page*exportPageSize >= total || len(events) == 0 {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportRow(ev *repository.AuditEvent) []string {
	identity := ""
	if ev.IdentityID != nil {
		identity = *ev.IdentityID
	}
	meta := ""
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			meta = string(b)
		}
	}
	return []string{
		ev.ID,
		ev.CreatedAt.UTC().Format(time.RFC3339),
		ev.Event,
		identity,
		ev.OrgID,
		ev.Provider,
		strconv.FormatBool(ev.Success),
		ev.IPAddress,
		ev.UserAgent,
		string(ev.Risk),
		meta,
	}
}
