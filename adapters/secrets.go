package adapters

import (
	"fmt"
	"os"
	"regexp"

	"picow-telemetry/application"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Secrets is the device's credential file. Keys match the legacy
// firmware's secrets dictionary.
type Secrets struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"pw"`
	Broker   string `yaml:"broker"`
	SubTopic string `yaml:"subtopic"`
	PubTopic string `yaml:"pubtopic"`
	ClientID string `yaml:"client_id"`
	PicowID  int    `yaml:"picow_id"`
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadSecrets reads a YAML secrets file. ${VAR} references to set
// environment variables are expanded before parsing; any other "$" is kept
// as written.
func LoadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Secrets{}
	if err := yaml.Unmarshal(expandEnv(data), s); err != nil {
		return nil, fmt.Errorf("parse secrets %s: %w", path, err)
	}

	if s.ClientID == "" {
		s.ClientID = "picow-" + uuid.NewString()
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("secrets %s: %w", path, err)
	}
	return s, nil
}

func expandEnv(data []byte) []byte {
	return envReference.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envReference.FindSubmatch(ref)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return ref
	})
}

func (s *Secrets) Validate() error {
	switch {
	case s.SSID == "":
		return fmt.Errorf("ssid is required")
	case s.Broker == "":
		return fmt.Errorf("broker is required")
	case s.SubTopic == "":
		return fmt.Errorf("subtopic is required")
	case s.PubTopic == "":
		return fmt.Errorf("pubtopic is required")
	case s.ClientID == "":
		return fmt.Errorf("client_id is required")
	}
	return nil
}

func (s *Secrets) Credentials() application.Credentials {
	return application.Credentials{SSID: s.SSID, Password: s.Password}
}

func (s *Secrets) Identity() application.DeviceIdentity {
	return application.DeviceIdentity{ClientID: s.ClientID, DeviceID: s.PicowID}
}

func (s *Secrets) Endpoint() application.BrokerEndpoint {
	return application.BrokerEndpoint{Host: s.Broker, SubscribeTopic: s.SubTopic, PublishTopic: s.PubTopic}
}
