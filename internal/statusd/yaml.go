package statusd

import "gopkg.in/yaml.v3"

func parseYAMLLoose(raw []byte, out *map[string]any) error {
	return yaml.Unmarshal(raw, out)
}
