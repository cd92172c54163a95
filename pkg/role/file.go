package role

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gafferhq/gaffer/pkg/errors"
)

type declarationFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadDeclarations reads role declarations from a standalone YAML file of
// the form:
//
//	roles:
//	  manager: [create_match, send_message, list_matches, help]
//	  player: [send_message, list_matches, help]
//
// The result still has to pass Resolve against the registry.
func LoadDeclarations(path string) ([]Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "read role declarations", err).
			WithContext("path", path)
	}

	var file declarationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "parse role declarations", err).
			WithContext("path", path)
	}
	if len(file.Roles) == 0 {
		return nil, errors.New(errors.CodeConfiguration, "role declaration file declares no roles", nil).
			WithContext("path", path)
	}
	return DeclarationsFromConfig(file.Roles), nil
}
