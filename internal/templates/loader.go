package templates

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	ometrics "github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
)

// ParseDefinition decodes one YAML template. Unknown fields are rejected and
// a missing template_type defaults to task.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var tpl Definition
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if tpl.TemplateType == "" {
		tpl.TemplateType = TemplateTypeTask
	}
	return &tpl, nil
}

// loadedFile is one template file that decoded and validated.
type loadedFile struct {
	def  *Definition
	path string
	hash string
}

// scanDir reads every .yaml/.yml file below root. Files that fail to read,
// decode or validate are reported in the returned failures and skipped.
func scanDir(root string) ([]loadedFile, []string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("template path %s is not a directory", root)
	}

	var (
		files    []loadedFile
		failures []string
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			return nil
		case d.IsDir() || !hasYAMLExt(path):
			return nil
		}
		f, err := readTemplateFile(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk template directory %s: %w", root, err)
	}
	return files, failures, nil
}

func readTemplateFile(path string) (loadedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadedFile{}, err
	}
	def, err := ParseDefinition(data)
	if err != nil {
		ometrics.TemplateValidationErrors.WithLabelValues("decode").Inc()
		return loadedFile{}, err
	}
	if err := checkDefinition(def); err != nil {
		return loadedFile{}, err
	}
	sum := sha256.Sum256(data)
	return loadedFile{def: def, path: path, hash: hex.EncodeToString(sum[:])}, nil
}

// checkDefinition runs ValidateTemplate and counts each issue code.
func checkDefinition(def *Definition) error {
	err := ValidateTemplate(def)
	if err == nil {
		return nil
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		ometrics.TemplateValidationErrors.WithLabelValues("validate").Inc()
		return err
	}
	for _, issue := range vErr.Issues {
		ometrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
	}
	return err
}

func hasYAMLExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadError lists the files skipped by a directory load.
type LoadError struct {
	Failures []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%d template file(s) skipped: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// IsLoadError reports whether err is, or wraps, a *LoadError.
func IsLoadError(err error) bool {
	var lErr *LoadError
	return errors.As(err, &lErr)
}
