// Package verify asks a vision model whether a candidate's documents are
// acceptable and turns the answer into a models.DocumentVerdict.
package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/pkg/ollama"
	"github.com/cockroachdb/errors"
	"github.com/qri-io/jsonschema"
)

// Document kinds accepted for verification.
const (
	KindPassport = "passport"
	KindPhoto    = "photo"
	KindDiploma  = "diploma"
)

var ErrNoDocuments = errors.New("no documents to verify")

// Document is one uploaded file.
type Document struct {
	Kind  string `json:"kind"`
	Image []byte `json:"image"`
}

// Generator is the part of the Ollama client the verifier needs.
type Generator interface {
	Generate(ctx context.Context, in ollama.GenerateRequest) (ollama.GenerateResult, error)
}

type Verifier struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

func New(gen Generator, model string, logger *slog.Logger) *Verifier {
	if model == "" {
		model = ollama.DefaultVisionModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{gen: gen, model: model, logger: logger}
}

const systemPrompt = `You check identity and qualification documents for a work visa application.
Answer with a single JSON object: {"approved": bool, "confidence": number between 0 and 1, "issues": [string]}.`

const promptTemplate = `Candidate: {{.Name}}
Documents, in the order of the attached images:
{{range $i, $k := .Kinds}}{{$i}}. {{$k}}
{{end}}
Approve only if every document is legible, unexpired and belongs to the candidate.
A passport must show the full name. A photo must be a plain-background portrait.`

// Verify sends the documents to the model. A reply that cannot be parsed is
// an error, never an approval.
func (v *Verifier) Verify(ctx context.Context, c *models.Candidate, docs []Document) (models.DocumentVerdict, error) {
	var verdict models.DocumentVerdict
	if c == nil {
		return verdict, errors.New("candidate is nil")
	}
	if len(docs) == 0 {
		return verdict, ErrNoDocuments
	}

	kinds := make([]string, 0, len(docs))
	images := make([][]byte, 0, len(docs))
	for i, d := range docs {
		if !knownKind(d.Kind) {
			return verdict, errors.Newf("document %d: unknown kind %q", i, d.Kind)
		}
		if len(d.Image) == 0 {
			return verdict, errors.Newf("document %d (%s): empty image", i, d.Kind)
		}
		kinds = append(kinds, d.Kind)
		images = append(images, d.Image)
	}

	prompt, err := ollama.RenderTemplate(promptTemplate, struct {
		Name  string
		Kinds []string
	}{Name: c.FullName, Kinds: kinds})
	if err != nil {
		return verdict, err
	}

	res, err := v.gen.Generate(ctx, ollama.GenerateRequest{
		Model:  v.model,
		System: systemPrompt,
		Prompt: prompt,
		Format: "json",
		Images: images,
	})
	if err != nil {
		return verdict, errors.Wrap(err, "document verification")
	}

	verdict, err = ParseVerdict(res.Text)
	if err != nil {
		v.logger.Warn("unparseable verification reply", "candidate_id", c.ID, "model", v.model, "error", err)
		return verdict, err
	}
	verdict.Model = v.model

	v.logger.Info("documents checked", "candidate_id", c.ID, "approved", verdict.Approved, "confidence", verdict.Confidence, "issues", len(verdict.Issues))
	return verdict, nil
}

// verdictSchema only checks shape. Out-of-range confidence is clamped
// rather than rejected.
const verdictSchema = `{
	"type": "object",
	"required": ["approved"],
	"properties": {
		"approved": {"type": "boolean"},
		"confidence": {"type": "number"},
		"issues": {"type": "array", "items": {"type": "string"}}
	}
}`

var replySchema = func() *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(verdictSchema), rs); err != nil {
		panic(err)
	}
	return rs
}()

// ParseVerdict extracts the JSON object from a model reply. Text around the
// object (code fences, preambles) is ignored and confidence is clamped to
// [0, 1].
func ParseVerdict(text string) (models.DocumentVerdict, error) {
	var out models.DocumentVerdict

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return out, errors.Newf("no JSON object in reply %q", truncate(text, 80))
	}

	obj := []byte(text[start : end+1])
	verrs, err := replySchema.ValidateBytes(context.Background(), obj)
	if err != nil {
		return out, errors.Wrap(err, "decode verdict")
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, v := range verrs {
			msgs = append(msgs, v.PropertyPath+": "+v.Message)
		}
		return out, errors.Newf("verdict does not match schema: %s", strings.Join(msgs, "; "))
	}

	var raw struct {
		Approved   *bool    `json:"approved"`
		Confidence float64  `json:"confidence"`
		Issues     []string `json:"issues"`
	}
	if err := json.Unmarshal(obj, &raw); err != nil {
		return out, errors.Wrap(err, "decode verdict")
	}
	if raw.Approved == nil {
		return out, errors.New("verdict is missing \"approved\"")
	}

	out.Approved = *raw.Approved
	out.Confidence = min(max(raw.Confidence, 0), 1)
	out.Issues = raw.Issues
	return out, nil
}

func knownKind(k string) bool {
	switch k {
	case KindPassport, KindPhoto, KindDiploma:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
