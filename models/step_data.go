package models

import (
	"os"
	"sort"
)

// ModelFile is one artifact attached to a step. Archives contribute one
// ModelFile per member.
type ModelFile struct {
	AttachmentID string `json:"attachment_id"`
	PropertyID   string `json:"property_id"`
	// Name is the original file name, or the member path inside the archive.
	Name string `json:"name"`
	Path string `json:"path"`
}

// StepData carries the input of one step for one pipeline run.
type StepData struct {
	StepID     string         `json:"step_id"`
	Properties map[string]any `json:"properties,omitempty"`
	ModelFiles []ModelFile    `json:"model_files,omitempty"`
	// Scratch lists the temporary directories backing ModelFiles.
	Scratch []string `json:"scratch,omitempty"`
}

func NewStepData(stepID string) *StepData {
	return &StepData{
		StepID:     stepID,
		Properties: map[string]any{},
	}
}

// Property returns the named property and whether it was set.
func (d *StepData) Property(name string) (any, bool) {
	if d == nil || d.Properties == nil {
		return nil, false
	}
	v, ok := d.Properties[name]
	return v, ok
}

// StringProperty returns the named property when it is a string.
func (d *StepData) StringProperty(name string) string {
	v, _ := d.Property(name)
	s, _ := v.(string)
	return s
}

// FilesFor returns the model files attached under propertyID.
func (d *StepData) FilesFor(propertyID string) []ModelFile {
	if d == nil {
		return nil
	}
	var files []ModelFile
	for _, f := range d.ModelFiles {
		if f.PropertyID == propertyID {
			files = append(files, f)
		}
	}
	return files
}

// Cleanup removes the scratch directories created during ingestion.
func (d *StepData) Cleanup() error {
	if d == nil {
		return nil
	}
	var first error
	for _, dir := range d.Scratch {
		if err := os.RemoveAll(dir); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StepDataSet maps step identifiers to their input.
type StepDataSet map[string]*StepData

// For returns the data for stepID, synthesising an empty instance for steps
// that received no input.
func (s StepDataSet) For(stepID string) *StepData {
	if d, ok := s[stepID]; ok && d != nil {
		return d
	}
	return NewStepData(stepID)
}

// StepIDs returns the identifiers in the set, sorted.
func (s StepDataSet) StepIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cleanup removes the scratch directories of every step.
func (s StepDataSet) Cleanup() error {
	var first error
	for _, d := range s {
		if err := d.Cleanup(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
