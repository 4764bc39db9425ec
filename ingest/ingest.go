// Package ingest turns a submitted model document and its named attachments
// into one StepData per step.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/utils"
	"gopkg.in/yaml.v3"
)

const keySeparator = "_"

// KeyError reports an attachment key that is not of the form
// <stepId>_<attachmentId>_<propertyId>.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("malformed attachment key %q: %s", e.Key, e.Reason)
}

type Key struct {
	StepID       string
	AttachmentID string
	PropertyID   string
}

func (k Key) String() string {
	return strings.Join([]string{k.StepID, k.AttachmentID, k.PropertyID}, keySeparator)
}

// ParseKey splits an attachment key into exactly three non-empty segments.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 3 {
		return Key{}, &KeyError{Key: key, Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Key{}, &KeyError{Key: key, Reason: "empty segment"}
		}
	}
	return Key{StepID: parts[0], AttachmentID: parts[1], PropertyID: parts[2]}, nil
}

// UnknownStepError reports document data or an attachment addressed to a
// step the pipeline does not have.
type UnknownStepError struct {
	Step string
	// Key is the attachment key, empty for document entries.
	Key string
}

func (e *UnknownStepError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("attachment %q addresses unknown step %q", e.Key, e.Step)
	}
	return fmt.Sprintf("document addresses unknown step %q", e.Step)
}

// Document is the caller submitted model: step identifier to properties.
type Document struct {
	Steps map[string]map[string]any `json:"steps" yaml:"steps"`
}

// ParseDocument decodes a JSON or YAML document. An empty body yields an
// empty document.
func ParseDocument(contentType string, body []byte) (Document, error) {
	var doc Document
	if len(strings.TrimSpace(string(body))) == 0 {
		return doc, nil
	}
	var err error
	switch mediaType(contentType) {
	case "application/json", "":
		err = json.Unmarshal(body, &doc)
	case "application/x-yaml", "text/yaml", "application/yaml":
		err = yaml.Unmarshal(body, &doc)
	default:
		return doc, fmt.Errorf("unsupported document content type %q", contentType)
	}
	if err != nil {
		return doc, fmt.Errorf("failed to parse model document: %w", err)
	}
	return doc, nil
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(mt))
}

// Attachment is one named binary stream submitted with the document.
type Attachment struct {
	Key      string
	FileName string
	Open     func() (io.ReadCloser, error)
}

// Ingester materialises attachments under BaseDir (os.TempDir when empty).
// When Steps is set, data for any other step identifier is rejected.
type Ingester struct {
	BaseDir string
	Steps   []string
	Logger  *logrus.Logger
}

func NewIngester(baseDir string, logger *logrus.Logger) *Ingester {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Ingester{BaseDir: baseDir, Logger: logger}
}

// Ingest builds the StepData of every step named by the document or by an
// attachment key. Every key is validated before anything is written, and
// on failure all temporary files created so far are removed.
func (i *Ingester) Ingest(doc Document, attachments []Attachment) (set models.StepDataSet, err error) {
	keys := make([]Key, len(attachments))
	for idx, a := range attachments {
		k, err := ParseKey(a.Key)
		if err != nil {
			return nil, err
		}
		if !i.knownStep(k.StepID) {
			return nil, &UnknownStepError{Step: k.StepID, Key: a.Key}
		}
		keys[idx] = k
	}
	docSteps := make([]string, 0, len(doc.Steps))
	for stepID := range doc.Steps {
		docSteps = append(docSteps, stepID)
	}
	sort.Strings(docSteps)
	for _, stepID := range docSteps {
		if !i.knownStep(stepID) {
			return nil, &UnknownStepError{Step: stepID}
		}
	}

	set = models.StepDataSet{}
	defer func() {
		if err != nil {
			if cerr := set.Cleanup(); cerr != nil {
				i.Logger.Warnf("Failed to clean up partial ingestion: %v", cerr)
			}
			set = nil
		}
	}()

	for stepID, props := range doc.Steps {
		d := set.For(stepID)
		for k, v := range props {
			d.Properties[k] = v
		}
		set[stepID] = d
	}

	order := make([]int, len(attachments))
	for idx := range order {
		order[idx] = idx
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]].String() < keys[order[b]].String()
	})

	for _, idx := range order {
		k, a := keys[idx], attachments[idx]
		d := set.For(k.StepID)
		set[k.StepID] = d

		files, dir, err := i.materialise(k, a)
		if dir != "" {
			d.Scratch = append(d.Scratch, dir)
		}
		if err != nil {
			return set, fmt.Errorf("attachment %s: %w", a.Key, err)
		}
		d.ModelFiles = append(d.ModelFiles, files...)
		i.Logger.WithFields(logrus.Fields{"step": k.StepID, "attachment": k.AttachmentID, "files": len(files)}).Debug("Ingested attachment")
	}
	return set, nil
}

func (i *Ingester) knownStep(id string) bool {
	return len(i.Steps) == 0 || slices.Contains(i.Steps, id)
}

func (i *Ingester) materialise(k Key, a Attachment) ([]models.ModelFile, string, error) {
	if a.Open == nil {
		return nil, "", errors.New("no content")
	}
	dir, err := os.MkdirTemp(i.BaseDir, k.StepID+"-"+k.AttachmentID+"-")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	rc, err := a.Open()
	if err != nil {
		return nil, dir, fmt.Errorf("failed to open: %w", err)
	}
	defer rc.Close()

	name := filepath.Base(a.FileName)
	if name == "." || name == string(filepath.Separator) {
		name = k.PropertyID
	}

	if kind := archiveKind(name); kind != archiveNone {
		members, err := extract(kind, rc, i.BaseDir, dir)
		if err != nil {
			return nil, dir, err
		}
		files := make([]models.ModelFile, 0, len(members))
		for _, m := range members {
			files = append(files, models.ModelFile{
				AttachmentID: k.AttachmentID,
				PropertyID:   k.PropertyID,
				Name:         m,
				Path:         filepath.Join(dir, filepath.FromSlash(m)),
			})
		}
		return files, dir, nil
	}

	path, err := utils.WriteStreamFile(dir, name, rc)
	if err != nil {
		return nil, dir, err
	}
	return []models.ModelFile{{
		AttachmentID: k.AttachmentID,
		PropertyID:   k.PropertyID,
		Name:         name,
		Path:         path,
	}}, dir, nil
}
