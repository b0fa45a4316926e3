package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "collector", "development":
		return collectorTemplate, nil
	case "production":
		return productionTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const collectorTemplate = `url = "ws://localhost:3000/_cable"
token = "temp-auth-key"
channel = "local-run"
handshake_timeout = "20s"
connect_timeout = "5s"
write_timeout = "15s"
processing_timeout = "30s"
security_mode = "development"
debug_enabled = false
debug_filepath = ""
metrics_listen_addr = "127.0.0.1:9464"
`

const productionTemplate = `url = "wss://analytics-api.buildkite.com/_cable"
# token is read from RESULTSTREAM_TOKEN when left empty
token = ""
channel = ""
handshake_timeout = "20s"
connect_timeout = "5s"
write_timeout = "15s"
processing_timeout = "30s"
security_mode = "production"
tls_ca_file = ""
tls_server_name = ""
tls_insecure_skip_verify = false
debug_enabled = false
debug_filepath = ""
metrics_listen_addr = ""
`
