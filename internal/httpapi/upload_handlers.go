package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/audit"
	"affidblock.io/internal/chain"
)

type uploadResponse struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
	Hash string `json:"hash"`
}

// upload accepts a multipart document, stores it and returns the
// content hash callers attach to affidavit requests. The hash is what
// later gets anchored, so it is computed here, server side.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.callerID(w, r); !ok {
		return
	}
	if a.objects == nil {
		writeError(w, r, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}

	// The request body is already capped by MaxBodyBytes.
	if err := r.ParseMultipartForm(a.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to read file")
		return
	}
	if len(content) == 0 {
		writeError(w, r, http.StatusBadRequest, "file is empty")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	folder := strings.TrimSpace(r.FormValue("folder"))
	if folder == "" {
		folder = "documents"
	}

	obj, err := a.objects.Put(r.Context(), content, header.Filename, contentType, folder)
	if err != nil {
		handleServiceError(w, r, fmt.Errorf("%w: %v", affidavit.ErrExternal, err))
		return
	}

	hash := chain.HashContent(content)
	_ = audit.LogEvent(r.Context(), audit.EventDocumentUpload, map[string]any{
		"key":   obj.Key,
		"bytes": len(content),
		"hash":  hash,
	})
	writeJSON(w, http.StatusCreated, uploadResponse{
		Key:  obj.Key,
		URL:  obj.URL,
		Name: obj.Name,
		MIME: obj.MIME,
		Hash: hash,
	})
}
