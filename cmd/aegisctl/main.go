// aegisctl es el CLI admin del engine (solo /v1/admin).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func (c *client) run(method, path string, body []byte) error {
	status, respBody, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("status=%d body=%s", status, string(respBody))
	}
	c.print(status, respBody)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		baseURL = envOr("AEGIS_ADMIN_URL", "http://localhost:8080")
		apiKey  = envOr("AEGIS_ADMIN_KEY", "")
		out     = envOr("AEGIS_OUT", "text")
	)

	root := &cobra.Command{
		Use:   "aegisctl",
		Short: "CLI admin para Aegis (solo /v1/admin)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("falta API key (flag --admin-key o env AEGIS_ADMIN_KEY)")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "admin-url", baseURL, "URL base del Admin API (env AEGIS_ADMIN_URL)")
	root.PersistentFlags().StringVar(&apiKey, "admin-key", apiKey, "API key del Admin API (env AEGIS_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	syncClient := func() {
		cl.BaseURL, cl.APIKey, cl.OutFormat = baseURL, apiKey, out
	}

	// --- providers ---
	providersCmd := &cobra.Command{Use: "providers", Short: "Administrar federation providers"}

	var listOrg string
	providersList := &cobra.Command{
		Use:   "list",
		Short: "Listar providers de una organización",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			if listOrg == "" {
				return fmt.Errorf("falta --org")
			}
			return cl.run("GET", "/v1/admin/providers?org_id="+url.QueryEscape(listOrg), nil)
		},
	}
	providersList.Flags().StringVar(&listOrg, "org", "", "ID de la organización")

	providersGet := &cobra.Command{
		Use:   "get <provider-id>",
		Short: "Obtener un provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			return cl.run("GET", "/v1/admin/providers/"+url.PathEscape(args[0]), nil)
		},
	}

	var providerFile string
	providersCreate := &cobra.Command{
		Use:   "create",
		Short: "Crear un provider desde un archivo JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			body, err := os.ReadFile(providerFile)
			if err != nil {
				return err
			}
			return cl.run("POST", "/v1/admin/providers", body)
		},
	}
	providersCreate.Flags().StringVar(&providerFile, "file", "", "Archivo JSON con la configuración")
	_ = providersCreate.MarkFlagRequired("file")

	var updateFile string
	providersUpdate := &cobra.Command{
		Use:   "update <provider-id>",
		Short: "Reemplazar la configuración de un provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			body, err := os.ReadFile(updateFile)
			if err != nil {
				return err
			}
			return cl.run("PUT", "/v1/admin/providers/"+url.PathEscape(args[0]), body)
		},
	}
	providersUpdate.Flags().StringVar(&updateFile, "file", "", "Archivo JSON con la configuración")
	_ = providersUpdate.MarkFlagRequired("file")

	providersDelete := &cobra.Command{
		Use:   "delete <provider-id>",
		Short: "Eliminar un provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			return cl.run("DELETE", "/v1/admin/providers/"+url.PathEscape(args[0]), nil)
		},
	}
	providersCmd.AddCommand(providersList, providersGet, providersCreate, providersUpdate, providersDelete)

	// --- sessions ---
	sessionsCmd := &cobra.Command{Use: "sessions", Short: "Administrar sesiones"}

	sessionsList := &cobra.Command{
		Use:   "list <identity-id>",
		Short: "Listar sesiones activas de una identidad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			return cl.run("GET", "/v1/admin/identities/"+url.PathEscape(args[0])+"/sessions", nil)
		},
	}
	sessionsRevoke := &cobra.Command{
		Use:   "revoke-all <identity-id>",
		Short: "Revocar todas las sesiones de una identidad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			return cl.run("DELETE", "/v1/admin/identities/"+url.PathEscape(args[0])+"/sessions", nil)
		},
	}
	sessionsStats := &cobra.Command{
		Use:   "stats <org-id>",
		Short: "Estadísticas de sesiones de una organización",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			return cl.run("GET", "/v1/admin/orgs/"+url.PathEscape(args[0])+"/sessions/stats", nil)
		},
	}
	sessionsCmd.AddCommand(sessionsList, sessionsRevoke, sessionsStats)

	// --- alerts ---
	alertsCmd := &cobra.Command{Use: "alerts", Short: "Consultar y resolver alertas de seguridad"}

	var alertsOrg, alertsType, alertsResolved string
	alertsList := &cobra.Command{
		Use:   "list",
		Short: "Listar alertas",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			q := url.Values{}
			if alertsOrg != "" {
				q.Set("org_id", alertsOrg)
			}
			if alertsType != "" {
				q.Set("type", alertsType)
			}
			if alertsResolved != "" {
				q.Set("resolved", alertsResolved)
			}
			path := "/v1/admin/alerts"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return cl.run("GET", path, nil)
		},
	}
	alertsList.Flags().StringVar(&alertsOrg, "org", "", "Filtrar por organización")
	alertsList.Flags().StringVar(&alertsType, "type", "", "Filtrar por tipo de alerta")
	alertsList.Flags().StringVar(&alertsResolved, "resolved", "", "Filtrar por estado: true|false")

	var resolvedBy string
	alertsResolve := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Marcar una alerta como resuelta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			if resolvedBy == "" {
				return fmt.Errorf("falta --by")
			}
			body, _ := json.Marshal(map[string]string{"resolved_by": resolvedBy})
			return cl.run("POST", "/v1/admin/alerts/"+url.PathEscape(args[0])+"/resolve", body)
		},
	}
	alertsResolve.Flags().StringVar(&resolvedBy, "by", "", "Quién resuelve la alerta")
	alertsCmd.AddCommand(alertsList, alertsResolve)

	// --- audit ---
	auditCmd := &cobra.Command{Use: "audit", Short: "Consultar el audit trail"}

	var auditIdentity, auditOrg, auditEvent, auditFrom, auditTo string
	auditQuery := func() url.Values {
		q := url.Values{}
		if auditIdentity != "" {
			q.Set("identity_id", auditIdentity)
		}
		if auditOrg != "" {
			q.Set("org_id", auditOrg)
		}
		if auditEvent != "" {
			q.Set("event", auditEvent)
		}
		if auditFrom != "" {
			q.Set("from", auditFrom)
		}
		if auditTo != "" {
			q.Set("to", auditTo)
		}
		return q
	}
	addAuditFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&auditIdentity, "identity", "", "Filtrar por identidad")
		cmd.Flags().StringVar(&auditOrg, "org", "", "Filtrar por organización")
		cmd.Flags().StringVar(&auditEvent, "event", "", "Filtrar por tipo de evento")
		cmd.Flags().StringVar(&auditFrom, "from", "", "Desde (RFC3339)")
		cmd.Flags().StringVar(&auditTo, "to", "", "Hasta (RFC3339)")
	}

	auditList := &cobra.Command{
		Use:   "query",
		Short: "Consultar eventos",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			path := "/v1/admin/audit"
			if q := auditQuery(); len(q) > 0 {
				path += "?" + q.Encode()
			}
			return cl.run("GET", path, nil)
		},
	}
	addAuditFlags(auditList)

	var exportOut string
	auditExport := &cobra.Command{
		Use:   "export",
		Short: "Exportar el trail filtrado como CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			path := "/v1/admin/audit/export"
			if q := auditQuery(); len(q) > 0 {
				path += "?" + q.Encode()
			}
			status, body, err := cl.do("GET", path, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("export falló: status=%d body=%s", status, string(body))
			}
			if exportOut == "" || exportOut == "-" {
				_, err = os.Stdout.Write(body)
				return err
			}
			return os.WriteFile(exportOut, body, 0o644)
		},
	}
	addAuditFlags(auditExport)
	auditExport.Flags().StringVar(&exportOut, "output", "-", "Archivo de salida ('-' = stdout)")
	auditCmd.AddCommand(auditList, auditExport)

	root.AddCommand(providersCmd, sessionsCmd, alertsCmd, auditCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
