package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"continuity/internal/domain"
	"continuity/internal/jobs"

	"github.com/go-chi/chi/v5"
)

const multipartMemory = 8 << 20

// flexString accepts a JSON string or number, so seconds may be sent as 4 or "4".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type videoRequest struct {
	Prompt            string     `json:"prompt"`
	Size              string     `json:"size"`
	Seconds           flexString `json:"seconds"`
	InputReferenceURL string     `json:"input_reference_url"`
	BasePrompt        string     `json:"base_prompt"`
	Variants          []string   `json:"variants"`

	reference domain.Reference
}

func (v *videoRequest) applyDefaults() {
	if strings.TrimSpace(v.Size) == "" {
		v.Size = string(domain.DefaultSize)
	}
	if strings.TrimSpace(string(v.Seconds)) == "" {
		v.Seconds = domain.DefaultSeconds
	}
	v.Size = strings.TrimSpace(v.Size)
	v.Seconds = flexString(strings.TrimSpace(string(v.Seconds)))
}

// decodeVideoRequest reads the same logical fields from a JSON body or a
// multipart form and folds the reference into a domain.Reference.
func (a *App) decodeVideoRequest(w http.ResponseWriter, r *http.Request) (*videoRequest, error) {
	req := &videoRequest{}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes()+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, domain.Validation("body", "invalid multipart form")
		}
		req.Prompt = r.FormValue("prompt")
		req.Size = r.FormValue("size")
		req.Seconds = flexString(r.FormValue("seconds"))
		req.InputReferenceURL = r.FormValue("input_reference_url")
		req.BasePrompt = r.FormValue("base_prompt")
		variants, err := formVariants(r.MultipartForm.Value["variants"])
		if err != nil {
			return nil, err
		}
		req.Variants = variants

		data, contentType, filename, err := a.readReferenceFile(r)
		if err != nil {
			return nil, err
		}
		req.reference = domain.NewReference(req.InputReferenceURL, data, contentType, filename)
	} else {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return nil, domain.Validation("body", "invalid JSON body")
		}
		req.reference = domain.URLReference(req.InputReferenceURL)
	}

	req.applyDefaults()
	return req, nil
}

func (a *App) maxUploadBytes() int64 {
	if a.MaxUploadBytes > 0 {
		return a.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (a *App) readReferenceFile(r *http.Request) ([]byte, string, string, error) {
	file, header, err := r.FormFile("input_reference_file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", "", nil
	}
	if err != nil {
		return nil, "", "", domain.Validation("input_reference_file", "unreadable upload")
	}
	defer file.Close()

	limit := a.maxUploadBytes()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", "", domain.Validation("input_reference_file", "unreadable upload")
	}
	if int64(len(data)) > limit {
		return nil, "", "", domain.Validation("input_reference_file", "reference image is too large")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" && len(data) > 0 {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, header.Filename, nil
}

// formVariants accepts either a single JSON array field or repeated plain fields.
func formVariants(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var out []string
		if err := json.Unmarshal([]byte(values[0]), &out); err != nil {
			return nil, domain.Validation("variants", "variants must be a JSON array of strings")
		}
		return out, nil
	}
	return values, nil
}

// VideosCreate submits one generation job.
func (a *App) VideosCreate(w http.ResponseWriter, r *http.Request) {
	req, err := a.decodeVideoRequest(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Videos.Submit(r.Context(), domain.Submission{
		Prompt:    req.Prompt,
		Size:      domain.Size(req.Size),
		Seconds:   string(req.Seconds),
		Reference: req.reference,
		Identity:  a.currentUserID(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// VideoStatus serves GET /v1/videos/{id}/status.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	a.status(w, r, chi.URLParam(r, "id"))
}

// VideoStatusQuery serves the older GET /v1/videos/status?id= form.
func (a *App) VideoStatusQuery(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		a.fail(w, r, domain.Validation("id", "id query parameter is required"))
		return
	}
	a.status(w, r, id)
}

func (a *App) status(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.Videos.CheckStatus(r.Context(), id, a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// VideoContent redirects to the stored artifact once the job is materialized.
// Until then it answers 409 with the current status.
func (a *App) VideoContent(w http.ResponseWriter, r *http.Request) {
	res, err := a.Videos.CheckStatus(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if res.OutputURL == "" {
		a.json(w, http.StatusConflict, res)
		return
	}
	http.Redirect(w, r, res.OutputURL, http.StatusFound)
}

type batchResult struct {
	Variant  string               `json:"variant"`
	Prompt   string               `json:"prompt"`
	OK       bool                 `json:"ok"`
	Response *domain.SubmitResult `json:"response,omitempty"`
	Error    *errorBody           `json:"error,omitempty"`
}

// VideosBatch submits one job per variant of a base prompt. Per-variant
// failures are reported inline; the request itself only fails on bad input.
func (a *App) VideosBatch(w http.ResponseWriter, r *http.Request) {
	req, err := a.decodeVideoRequest(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, err := a.Videos.SubmitBatch(r.Context(), jobs.BatchRequest{
		BasePrompt: req.BasePrompt,
		Variants:   req.Variants,
		Size:       domain.Size(req.Size),
		Seconds:    string(req.Seconds),
		Reference:  req.reference,
		Identity:   a.currentUserID(r),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	results := make([]batchResult, 0, len(items))
	for _, item := range items {
		out := batchResult{Variant: item.Variant, Prompt: item.Prompt}
		if item.Err != nil {
			_, body := toErrorBody(item.Err)
			out.Error = &body
		} else {
			out.OK = true
			out.Response = item.Result
		}
		results = append(results, out)
	}
	a.json(w, http.StatusOK, map[string]any{"results": results})
}
