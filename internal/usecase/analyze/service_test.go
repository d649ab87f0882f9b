package analyze

import (
	"context"
	"errors"
	"image"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	"github.com/kailas-cloud/evidex/internal/domain/instance"
	"github.com/kailas-cloud/evidex/internal/domain/route"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// --- Fakes ---

type fakePipeline struct {
	img       image.Image
	decodeErr error
	dets      []instance.Detected
	segErr    error
	embedErr  error
	embedOpts []pipeline.Options
}

func (p *fakePipeline) Decode(_ []byte) (image.Image, error) {
	if p.decodeErr != nil {
		return nil, p.decodeErr
	}
	return p.img, nil
}

func (p *fakePipeline) Segment(_ context.Context, _ image.Image) ([]instance.Detected, error) {
	return p.dets, p.segErr
}

func (p *fakePipeline) Embed(_ context.Context, _ image.Image, opts pipeline.Options) ([]float32, int, error) {
	p.embedOpts = append(p.embedOpts, opts)
	if p.embedErr != nil {
		return nil, 0, p.embedErr
	}
	return make([]float32, 16), 64, nil
}

func (p *fakePipeline) DefaultOptions() pipeline.Options {
	return pipeline.Options{SegmentFirst: true, Normalize: true, TargetDim: 16}
}

type fakeClassifier struct {
	labels []analysis.Label
	err    error
}

func (c *fakeClassifier) Warmup(context.Context) error { return nil }
func (c *fakeClassifier) Close() error                 { return nil }

func (c *fakeClassifier) Classify(_ context.Context, _ image.Image, k int) ([]analysis.Label, error) {
	if c.err != nil {
		return nil, c.err
	}
	if k < len(c.labels) {
		return c.labels[:k], nil
	}
	return c.labels, nil
}

type fakeClassifiers struct {
	brand  *fakeClassifier
	models map[string]*fakeClassifier
}

func (f *fakeClassifiers) BrandClassifier() (models.Classifier, error) {
	if f.brand == nil {
		return nil, domain.NewModelUnavailable("brand")
	}
	return f.brand, nil
}

func (f *fakeClassifiers) BrandModel(brand string) (models.Classifier, error) {
	c, ok := f.models[brand]
	if !ok {
		return nil, domain.NewModelUnavailable(string(models.BrandModelRole(brand)))
	}
	return c, nil
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 255
	}
	return img
}

func det(idx int, label string, conf float32) instance.Detected {
	return instance.Detected{
		Index: idx, ClassLabel: label, Confidence: conf,
		Box: image.Rect(0, 0, 8, 8), Mask: instance.FullMask(8, 8),
	}
}

func glockClassifiers() *fakeClassifiers {
	return &fakeClassifiers{
		brand: &fakeClassifier{labels: []analysis.Label{
			{Label: "GLOCK", Confidence: 0.7}, {Label: "SIG", Confidence: 0.2},
			{Label: "CZ", Confidence: 0.05}, {Label: "Colt", Confidence: 0.05},
		}},
		models: map[string]*fakeClassifier{
			"GLOCK": {labels: []analysis.Label{{Label: "G17", Confidence: 0.9}, {Label: "G19", Confidence: 0.1}}},
		},
	}
}

func newTestService(p *fakePipeline, c *fakeClassifiers) *Service {
	if p.img == nil {
		p.img = solid(8, 8)
	}
	return New(p, c, route.NewDefault(), zap.NewNop())
}

// --- Tests ---

func TestAnalyze_FirearmWins(t *testing.T) {
	p := &fakePipeline{dets: []instance.Detected{
		det(0, "Drug", 0.8), det(1, "Pistol", 0.9), det(2, "Bullet", 0.5),
	}}
	svc := newTestService(p, glockClassifiers())

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.DetectionType != analysis.DetectionFirearm {
		t.Errorf("detection type = %s", report.DetectionType)
	}
	if len(report.Objects) != 3 || len(report.Primary) != 1 || len(report.Secondary) != 2 {
		t.Fatalf("objects=%d primary=%d secondary=%d", len(report.Objects), len(report.Primary), len(report.Secondary))
	}

	gun := report.Primary[0]
	if gun.Firearm == nil {
		t.Fatal("firearm verdict missing")
	}
	if gun.Firearm.SelectedBrand != "GLOCK" || len(gun.Firearm.BrandTop3) != 3 {
		t.Errorf("brand = %+v", gun.Firearm)
	}
	if gun.Firearm.SelectedModel != "G17" || len(gun.Firearm.ModelTop3) != 2 {
		t.Errorf("model = %+v", gun.Firearm)
	}

	bullet := report.Objects[2]
	if bullet.Pipeline != route.PipelineNone || bullet.Note != "no classifier for class Bullet" {
		t.Errorf("bullet = %+v", bullet)
	}
}

func TestAnalyze_NarcoticVector(t *testing.T) {
	p := &fakePipeline{dets: []instance.Detected{det(0, "PackageDrug", 0.8)}}
	svc := newTestService(p, glockClassifiers())

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.DetectionType != analysis.DetectionNarcotic {
		t.Errorf("detection type = %s", report.DetectionType)
	}
	n := report.Primary[0].Narcotic
	if n == nil || n.Dimensions != 16 || n.DrugType != analysis.Unknown {
		t.Fatalf("narcotic = %+v", n)
	}
	if len(p.embedOpts) != 1 || p.embedOpts[0].SegmentFirst {
		t.Errorf("drug crop must not be re-segmented: %+v", p.embedOpts)
	}
}

func TestAnalyze_NoDetections(t *testing.T) {
	svc := newTestService(&fakePipeline{dets: []instance.Detected{}}, glockClassifiers())
	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.DetectionType != analysis.DetectionUnknown || len(report.Objects) != 0 || report.Primary == nil {
		t.Errorf("report = %+v", report)
	}
}

func TestAnalyze_UnknownBrandSkipsModel(t *testing.T) {
	c := glockClassifiers()
	c.brand.labels = nil
	svc := newTestService(&fakePipeline{dets: []instance.Detected{det(0, "Revolver", 0.9)}}, c)

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f := report.Objects[0].Firearm
	if f.SelectedBrand != analysis.Unknown || f.SelectedModel != analysis.Unknown || f.ModelTop3 == nil {
		t.Errorf("firearm = %+v", f)
	}
}

func TestAnalyze_MissingSubModel(t *testing.T) {
	c := glockClassifiers()
	c.brand.labels = []analysis.Label{{Label: "Kimber", Confidence: 0.9}}
	svc := newTestService(&fakePipeline{dets: []instance.Detected{det(0, "Pistol", 0.9)}}, c)

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f := report.Objects[0].Firearm
	if f.SelectedBrand != "Kimber" || f.SelectedModel != analysis.Unknown {
		t.Errorf("firearm = %+v", f)
	}
}

func TestAnalyze_DegradedModels(t *testing.T) {
	p := &fakePipeline{
		dets:     []instance.Detected{det(0, "Pistol", 0.9), det(1, "Drug", 0.8)},
		embedErr: domain.NewModelUnavailable("narcotic"),
	}
	c := &fakeClassifiers{}
	svc := newTestService(p, c)

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Objects[0].Firearm.SelectedBrand != analysis.Unknown {
		t.Errorf("firearm = %+v", report.Objects[0].Firearm)
	}
	if report.Objects[1].Note != "narcotic model unavailable" || report.Objects[1].Narcotic.Dimensions != 0 {
		t.Errorf("drug = %+v", report.Objects[1])
	}
}

func TestAnalyze_Errors(t *testing.T) {
	svc := newTestService(&fakePipeline{decodeErr: domain.ErrInvalidImageInput}, glockClassifiers())
	if _, err := svc.Analyze(context.Background(), nil); !errors.Is(err, domain.ErrInvalidImageInput) {
		t.Errorf("expected ErrInvalidImageInput, got %v", err)
	}

	svc = newTestService(&fakePipeline{segErr: domain.NewModelUnavailable("segmentation")}, glockClassifiers())
	if _, err := svc.Analyze(context.Background(), []byte("img")); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc = newTestService(&fakePipeline{dets: []instance.Detected{det(0, "Pistol", 0.9)}}, glockClassifiers())
	if _, err := svc.Analyze(ctx, []byte("img")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAnalyze_Crops(t *testing.T) {
	p := &fakePipeline{dets: []instance.Detected{det(0, "Bullet", 0.5)}}
	svc := newTestService(p, glockClassifiers()).WithCrops(80)

	report, err := svc.Analyze(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	crop := report.Objects[0].Crop
	if len(crop) < 2 || crop[0] != 0xFF || crop[1] != 0xD8 {
		t.Error("crop is not a JPEG")
	}
}

