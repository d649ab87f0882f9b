package onnx

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSidecar(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "best.onnx")
	if err := os.WriteFile(filepath.Join(dir, "best.json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return model
}

func TestSidecarPath(t *testing.T) {
	if got := SidecarPath("/m/brand_models/GLOCK/best.onnx"); got != "/m/brand_models/GLOCK/best.json" {
		t.Errorf("SidecarPath = %q", got)
	}
}

func TestLoadMetadata_Segmentation(t *testing.T) {
	model := writeSidecar(t, `{
		"output_names": ["output0", "output1"],
		"input_shape": [1, 3, 640, 640],
		"output_shapes": [[1, 43, 8400], [1, 32, 160, 160]],
		"classes": ["BigGun", "Bullet", "Drug", "Magazine", "PackageDrug", "Pistol", "Revolver"]
	}`)

	m, err := LoadMetadata(model)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if m.InputName != "images" {
		t.Errorf("InputName = %q", m.InputName)
	}
	if m.ImageSize != 640 {
		t.Errorf("ImageSize = %d", m.ImageSize)
	}
	if len(m.Classes) != 7 {
		t.Errorf("Classes = %v", m.Classes)
	}
}

func TestLoadMetadata_SingleOutputShorthand(t *testing.T) {
	model := writeSidecar(t, `{
		"input_shape": [1, 3, 224, 224],
		"output_shape": [1, 10],
		"classes": ["a","b","c","d","e","f","g","h","i","j"],
		"softmax": true
	}`)

	m, err := LoadMetadata(model)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if len(m.OutputShapes) != 1 || len(m.OutputNames) != 1 || m.OutputNames[0] != "output0" {
		t.Errorf("outputs = %v %v", m.OutputNames, m.OutputShapes)
	}
	if !m.Softmax {
		t.Error("Softmax flag lost")
	}
}

func TestLoadMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "parse metadata"},
		{"not nchw", `{"input_shape":[3,640,640],"output_shape":[1,2]}`, "NCHW"},
		{"grey", `{"input_shape":[1,1,64,64],"output_shape":[1,2]}`, "3 channels"},
		{"not square", `{"input_shape":[1,3,64,32],"output_shape":[1,2]}`, "square"},
		{"no outputs", `{"input_shape":[1,3,64,64]}`, "output_shapes"},
		{"names mismatch", `{"input_shape":[1,3,64,64],"output_names":["a"],"output_shapes":[[1],[2]]}`, "output names"},
		{"bad size", `{"input_shape":[1,3,64,64],"output_shape":[1,2],"image_size":32}`, "image_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMetadata(writeSidecar(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadMetadata_Missing(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "none.onnx"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want not-exist", err)
	}
}
