package render

import (
	"fmt"
	"strconv"

	"github.com/herdctl/herd/pkg/types"
)

// Vars is the substitution set applied to templates.
type Vars map[string]string

// BuildVars assembles the complete substitution set for one instance.
// Every variable the templates may reference must be present here;
// referencing anything else is an UnresolvedVariable error.
func BuildVars(inst *types.Instance, externalHost, dockerSocket string) Vars {
	apiURL := fmt.Sprintf("http://%s:%d", externalHost, inst.Ports.GatewayHTTP)

	return Vars{
		"INSTANCE_ID":       inst.ID,
		"PROJECT_NAME":      inst.Name,
		"ORGANIZATION_NAME": inst.Organization,

		"POSTGRES_PASSWORD": inst.Credentials.PostgresPassword,
		"POSTGRES_DB":       "postgres",
		"POSTGRES_PORT":     "5432",
		"POSTGRES_PORT_EXT": strconv.Itoa(inst.Ports.DatabaseExternal),

		"JWT_SECRET":       inst.Credentials.JWTSecret,
		"ANON_KEY":         inst.Credentials.AnonKey,
		"SERVICE_ROLE_KEY": inst.Credentials.ServiceRoleKey,

		"DASHBOARD_USERNAME": inst.Credentials.DashboardUsername,
		"DASHBOARD_PASSWORD": inst.Credentials.DashboardPassword,

		"KONG_HTTP_PORT":  strconv.Itoa(inst.Ports.GatewayHTTP),
		"KONG_HTTPS_PORT": strconv.Itoa(inst.Ports.GatewayHTTPS),
		"ANALYTICS_PORT":  strconv.Itoa(inst.Ports.Analytics),

		"EXTERNAL_IP":         externalHost,
		"API_EXTERNAL_URL":    apiURL,
		"SITE_URL":            apiURL,
		"SUPABASE_PUBLIC_URL": apiURL,

		"STUDIO_DEFAULT_ORGANIZATION": inst.Organization,
		"STUDIO_DEFAULT_PROJECT":      inst.Name,

		"ENABLE_EMAIL_SIGNUP":      "true",
		"ENABLE_EMAIL_AUTOCONFIRM": strconv.FormatBool(inst.Auth.EnableEmailAutoconfirm),
		"ENABLE_ANONYMOUS_USERS":   "false",
		"JWT_EXPIRY":               strconv.Itoa(inst.Auth.JWTExpiry),
		"DISABLE_SIGNUP":           strconv.FormatBool(inst.Auth.DisableSignup),

		"SMTP_ADMIN_EMAIL": "admin@" + externalHost,
		"SMTP_HOST":        "supabase-mail",
		"SMTP_PORT":        "2500",
		"SMTP_USER":        "fake_mail_user",
		"SMTP_PASS":        "fake_mail_password",
		"SMTP_SENDER_NAME": inst.Name,

		"IMGPROXY_ENABLE_WEBP_DETECTION": "true",
		"FUNCTIONS_VERIFY_JWT":           "false",
		"DOCKER_SOCKET_LOCATION":         dockerSocket,

		"LOGFLARE_API_KEY":                   inst.Credentials.JWTSecret[:32],
		"LOGFLARE_LOGGER_BACKEND_API_KEY":    inst.Credentials.JWTSecret[:32],
		"PGRST_DB_SCHEMAS":                   "public,storage,graphql_public",
	}
}

// CredentialVars returns only the substitution variables derived from
// credential material. The repair engine rewrites exactly these in the
// env file when regenerating credentials.
func CredentialVars(creds types.Credentials) Vars {
	return Vars{
		"POSTGRES_PASSWORD":  creds.PostgresPassword,
		"JWT_SECRET":         creds.JWTSecret,
		"ANON_KEY":           creds.AnonKey,
		"SERVICE_ROLE_KEY":   creds.ServiceRoleKey,
		"DASHBOARD_USERNAME": creds.DashboardUsername,
		"DASHBOARD_PASSWORD": creds.DashboardPassword,
	}
}
