package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config in the given format ("toml" or "yaml").
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "toml", "":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
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

const tomlTemplate = `server_host = "127.0.0.1"
transport = "stream"
control_port = 22222
video_port = 9098
result_port = 9111
# websocket_url = "ws://127.0.0.1:9099"
auth_token = ""
engine_name = "instruction"
payload_type = "image"
initial_credits = 2
clock_sync_trials = 20
clock_sync_on_close = false
retain_sent = false
holo_capture = false
poll_interval = "30ms"
status_addr = ":9400"
latency_log = ""
image_dir = "./frames"
image_fps = 15.0
reconnect = true
max_connect_attempts = 0

[session]
connect_timeout = "5s"
write_timeout = "5s"
read_timeout = "5s"
security_mode = "development"

[session.tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
insecure_skip_verify = false

[mqtt]
broker = ""
topic = "edgestream/results"
client_id = "edgestream"
qos = 0
`

const yamlTemplate = `server_host: 127.0.0.1
transport: stream
control_port: 22222
video_port: 9098
result_port: 9111
# websocket_url: ws://127.0.0.1:9099
auth_token: ""
engine_name: instruction
payload_type: image
initial_credits: 2
clock_sync_trials: 20
clock_sync_on_close: false
retain_sent: false
holo_capture: false
poll_interval: 30ms
status_addr: ":9400"
latency_log: ""
image_dir: ./frames
image_fps: 15
reconnect: true
max_connect_attempts: 0
session:
  connect_timeout: 5s
  write_timeout: 5s
  read_timeout: 5s
  security_mode: development
  tls:
    enabled: false
    mutual: false
    ca_file: ""
    cert_file: ""
    key_file: ""
    server_name: ""
    insecure_skip_verify: false
mqtt:
  broker: ""
  topic: edgestream/results
  client_id: edgestream
  qos: 0
`
