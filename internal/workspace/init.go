package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"vidmatrix/internal/runstore"
)

const ExampleProfileName = "example.yaml.sample"

const exampleProfile = `# Copy to <name>.yaml and adjust. The file name becomes the profile name.
Model:
  endpoint: lightricks/ltx-video
  code-nickname: ltx
pricing:
  cost_per_second: 0.02
duration_type: frames
fps: 24
duration_min: 9
duration_max: 257
duration_param_name: num_frames
image_param_name: image
prompt_prefix: ""
prompt_suffix: ""
params:
  aspect_ratio: "16:9"
`

const authTemplate = `# 1Password item holding the Replicate API token.
replicate:
  item_name: Replicate
  field_name: credential
`

type InitOptions struct {
	Doctor DoctorOptions
}

type InitResult struct {
	Created []string     `json:"created"`
	Doctor  DoctorResult `json:"doctor"`
}

// Init creates the workspace directories and starter files that do not exist yet, then
// runs Doctor. Existing files are never overwritten.
func Init(opts InitOptions) (InitResult, error) {
	d := opts.Doctor
	var created []string

	for _, dir := range []string{d.InputDir, d.ProfilesDir, d.OutputDir, filepath.Dir(d.AuthConfigPath)} {
		if strings.TrimSpace(dir) == "" || dir == "." {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			created = append(created, dir)
		}
		if err := runstore.Mkdir(dir); err != nil {
			return InitResult{}, err
		}
	}

	files := []struct {
		path string
		body string
	}{
		{filepath.Join(d.ProfilesDir, ExampleProfileName), exampleProfile},
		{d.AuthConfigPath, authTemplate},
	}
	for _, f := range files {
		if strings.TrimSpace(f.path) == "" {
			continue
		}
		if _, err := os.Stat(f.path); err == nil {
			continue
		}
		if err := runstore.WriteBytes(f.path, []byte(f.body)); err != nil {
			return InitResult{}, err
		}
		created = append(created, f.path)
	}

	doc, err := Doctor(d)
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{Created: created, Doctor: doc}, nil
}
