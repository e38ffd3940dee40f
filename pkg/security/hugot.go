package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/sirupsen/logrus"
)

// HugotClassifier runs a local ONNX text-classification model behind the
// Predictor contract. Initialization failure is not fatal: a classifier
// that never became ready simply reports Ready() == false and fusion falls
// back to keywords.
type HugotClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	cfg      HugotClassifierConfig
	ready    bool
	log      *logrus.Logger
}

// HugotClassifierConfig configures one ONNX classifier.
type HugotClassifierConfig struct {
	// Name identifies the classifier in logs and status output.
	Name string

	// ModelPath is the local ONNX model directory. If it does not exist
	// and ModelName is set, the model is downloaded there.
	ModelPath string

	// ModelName is the HuggingFace model to download when ModelPath is
	// missing.
	ModelName string

	// OnnxLibraryPath points at libonnxruntime. Empty selects the pure Go
	// backend.
	OnnxLibraryPath string

	// MapLabel translates the model's raw label vocabulary into the one
	// fusion expects. Nil keeps raw labels.
	MapLabel func(raw string) string
}

// IntentLabelMap translates the generic LABEL_N outputs of the intent
// model into the intent vocabulary.
func IntentLabelMap(raw string) string {
	switch raw {
	case "LABEL_0":
		return LabelLegitimate
	case "LABEL_1":
		return LabelSuspicious
	case "LABEL_2":
		return LabelMalicious
	default:
		return "Unknown"
	}
}

// NewHugotClassifier loads the model and builds the pipeline. On failure it
// returns a not-ready classifier and logs the cause; it never aborts the
// caller.
func NewHugotClassifier(cfg HugotClassifierConfig, log *logrus.Logger) *HugotClassifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &HugotClassifier{cfg: cfg, log: log}
	if err := c.initialize(); err != nil {
		log.WithFields(logrus.Fields{
			"classifier": cfg.Name,
			"error":      err,
		}).Warn("ONNX classifier unavailable, keyword fallback will cover this source")
		return c
	}
	log.WithField("classifier", cfg.Name).Info("ONNX classifier ready")
	return c
}

func (c *HugotClassifier) initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.createSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.session = session

	modelPath, err := c.resolveModelPath()
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      c.cfg.Name,
	})
	if err != nil {
		_ = c.session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	c.pipeline = pipeline
	c.ready = true
	return nil
}

func (c *HugotClassifier) createSession() (*hugot.Session, error) {
	if c.cfg.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(c.cfg.OnnxLibraryPath))
		if err == nil {
			return session, nil
		}
		c.log.WithError(err).Debug("ONNX Runtime unavailable, using Go backend")
	}
	return hugot.NewGoSession()
}

func (c *HugotClassifier) resolveModelPath() (string, error) {
	if c.cfg.ModelPath != "" {
		if _, err := os.Stat(filepath.Join(c.cfg.ModelPath, "model.onnx")); err == nil {
			return c.cfg.ModelPath, nil
		}
	}
	if c.cfg.ModelName == "" {
		return "", fmt.Errorf("no model at %q and no model name to download", c.cfg.ModelPath)
	}

	dir := c.cfg.ModelPath
	if dir == "" {
		dir = "./models"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	c.log.WithField("model", c.cfg.ModelName).Info("downloading model")
	path, err := hugot.DownloadModel(c.cfg.ModelName, dir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	return path, nil
}

// Name implements Predictor.
func (c *HugotClassifier) Name() string { return c.cfg.Name }

// Ready implements Predictor.
func (c *HugotClassifier) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Predict implements Predictor by running single-item inference.
func (c *HugotClassifier) Predict(ctx context.Context, text string) (string, float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || c.pipeline == nil {
		return "", 0, ErrDetectorUnavailable
	}

	start := time.Now()
	out, err := c.pipeline.RunPipeline([]string{text})
	if err != nil {
		return "", 0, fmt.Errorf("inference: %w", err)
	}
	if len(out.ClassificationOutputs) == 0 || len(out.ClassificationOutputs[0]) == 0 {
		return "", 0, fmt.Errorf("inference returned no output")
	}

	top := out.ClassificationOutputs[0][0]
	label := top.Label
	if c.cfg.MapLabel != nil {
		label = c.cfg.MapLabel(label)
	}
	c.log.WithFields(logrus.Fields{
		"classifier": c.cfg.Name,
		"label":      label,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("classification")
	return label, float64(top.Score), nil
}

// Close releases the ONNX session.
func (c *HugotClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
	}
	return nil
}
