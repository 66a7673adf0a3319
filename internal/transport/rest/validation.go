package rest

import (
	"bytes"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxUploadSize = 10 << 20

var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// pathRef returns the named URL parameter after checking it looks like an
// identifier.
func pathRef(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		return "", &ValidationError{Field: name, Message: name + " is required"}
	}
	if !refPattern.MatchString(v) {
		return "", &ValidationError{Field: name, Message: name + " is malformed"}
	}
	return v, nil
}

// readUpload returns the xlsx workbook posted in the "file" form field.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, &ValidationError{Field: "file", Message: "invalid form or file too large"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &ValidationError{Field: "file", Message: "file is required"}
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		return nil, &ValidationError{Field: "file", Message: "file must be an .xlsx workbook"}
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(file); err != nil {
		return nil, &ValidationError{Field: "file", Message: "failed to read file"}
	}
	return buf.Bytes(), nil
}
