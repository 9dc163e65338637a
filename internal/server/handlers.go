package server

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
	"github.com/leslieo2/prononciation-gateway/internal/server/middleware"
	"github.com/leslieo2/prononciation-gateway/internal/upstream"
)

// maxMultipartMemory is how much of a multipart body is kept in memory
// before parts spill to temporary files.
const maxMultipartMemory = 32 << 20

// advertisedRoutes is the route list returned by the root endpoint.
var advertisedRoutes = []string{
	constants.PathPing,
	constants.PathHealth,
	constants.PathAnalysePrononciation,
	constants.PathScore,
	constants.PathLanguesSupportees,
	constants.PathExercice,
	constants.PathAjouterPhrase,
	constants.PathOpenAPI,
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"service":      constants.GatewayName,
		"upstream":     s.config.Upstream.Label,
		"upstream_url": s.config.Upstream.BaseURL,
		"routes":       advertisedRoutes,
	})
}

// healthHandler reports on the gateway itself and never contacts the upstream.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"gateway":      constants.GatewayName,
		"upstream_url": s.config.Upstream.BaseURL,
	})
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	result := s.prober.Check(r.Context())
	s.sendJSON(w, result.StatusCode, result.Body)
}

func (s *Server) languesSupporteesHandler(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, upstream.Request{
		Method: http.MethodGet,
		Path:   constants.PathLanguesSupportees,
	})
}

func (s *Server) exerciceHandler(w http.ResponseWriter, r *http.Request) {
	langue := r.PathValue(constants.FieldLangue)
	s.forward(w, r, upstream.Request{
		Method: http.MethodGet,
		Path:   "/exercice/" + url.PathEscape(langue),
		Route:  constants.PathExercice,
	})
}

func (s *Server) ajouterPhraseHandler(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	langue := form.value(constants.FieldLangue)
	phrase := form.value(constants.FieldPhrase)
	if missing := missingFields(
		required{constants.FieldLangue, langue != ""},
		required{constants.FieldPhrase, phrase != ""},
	); len(missing) > 0 {
		s.sendValidationError(w, missing)
		return
	}

	s.forward(w, r, upstream.Request{
		Method: http.MethodPost,
		Path:   constants.PathAjouterPhrase,
		Form: []upstream.Field{
			{Name: constants.FieldLangue, Value: langue},
			{Name: constants.FieldPhrase, Value: phrase},
		},
	})
}

func (s *Server) analysePrononciationHandler(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	fichier := form.file(constants.FieldFichier)
	texteCible := form.value(constants.FieldTexteCible)
	if missing := missingFields(
		required{constants.FieldFichier, fichier != nil},
		required{constants.FieldTexteCible, texteCible != ""},
	); len(missing) > 0 {
		s.sendValidationError(w, missing)
		return
	}

	file, err := readUpload(constants.FieldFichier, fichier)
	if err != nil {
		s.sendBodyError(w, r, err)
		return
	}

	fields := []upstream.Field{{Name: constants.FieldTexteCible, Value: texteCible}}
	if v := form.value(constants.FieldLangueCible); v != "" {
		fields = append(fields, upstream.Field{Name: constants.FieldLangueCible, Value: v})
	}
	if v := form.value(constants.FieldAccent); v != "" {
		fields = append(fields, upstream.Field{Name: constants.FieldAccent, Value: v})
	}

	s.forward(w, r, upstream.Request{
		Method: http.MethodPost,
		Path:   constants.PathAnalysePrononciation,
		Form:   fields,
		Files:  []upstream.File{file},
	})
}

func (s *Server) scoreHandler(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	fichier := form.file(constants.FieldFichier)
	texteCible := form.value(constants.FieldTexteCible)
	if missing := missingFields(
		required{constants.FieldFichier, fichier != nil},
		required{constants.FieldTexteCible, texteCible != ""},
	); len(missing) > 0 {
		s.sendValidationError(w, missing)
		return
	}

	file, err := readUpload(constants.FieldFichier, fichier)
	if err != nil {
		s.sendBodyError(w, r, err)
		return
	}

	s.forward(w, r, upstream.Request{
		Method: http.MethodPost,
		Path:   constants.PathScore,
		Form:   []upstream.Field{{Name: constants.FieldTexteCible, Value: texteCible}},
		Files:  []upstream.File{file},
	})
}

func (s *Server) openAPIHandler(w http.ResponseWriter, r *http.Request) {
	s.openapi.ServeHTTP(w, r)
}

// forward relays req and writes the normalized envelope. The request id is
// propagated so upstream logs can be correlated.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, req upstream.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		req.Header = http.Header{constants.HeaderXRequestID: []string{id}}
	}
	env := s.forwarder.Forward(r.Context(), req)
	s.sendJSON(w, env.StatusCode, env.Body)
}

// fallbackHandler answers requests no route matched: 405 when the path
// exists under another method, 404 otherwise.
func (s *Server) fallbackHandler(mux *http.ServeMux) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			if method == r.Method {
				continue
			}
			probe := &http.Request{Method: method, URL: r.URL, Host: r.Host, Header: http.Header{}}
			if _, pattern := mux.Handler(probe); pattern != "" && pattern != "/" {
				allowed = append(allowed, method)
			}
		}

		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			s.sendDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		s.sendDetail(w, http.StatusNotFound, "Not Found")
	}
}

// formBody is a parsed urlencoded or multipart request body.
type formBody struct {
	values url.Values
	files  map[string][]*multipart.FileHeader
	form   *multipart.Form
}

func (f *formBody) value(name string) string {
	return f.values.Get(name)
}

func (f *formBody) file(name string) *multipart.FileHeader {
	if headers := f.files[name]; len(headers) > 0 {
		return headers[0]
	}
	return nil
}

func (f *formBody) cleanup() {
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// parseForm reads the request body as a form. Bodies of any other type
// yield an empty form, so required fields are then reported missing.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (*formBody, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get(constants.HeaderContentType))

	var err error
	switch mediaType {
	case "multipart/form-data":
		err = r.ParseMultipartForm(maxMultipartMemory)
	case constants.ContentTypeForm:
		err = r.ParseForm()
	default:
		return &formBody{values: url.Values{}}, true
	}
	if err != nil {
		s.sendBodyError(w, r, err)
		return nil, false
	}

	body := &formBody{values: r.PostForm, form: r.MultipartForm}
	if r.MultipartForm != nil {
		body.files = r.MultipartForm.File
	}
	return body, true
}

// sendBodyError maps a body read failure to 413 or 400.
func (s *Server) sendBodyError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, constants.ErrorCodeRequestTooLarge,
			middleware.TooLargeMessage(tooLarge.Limit), requestID)
		return
	}

	s.logger.Debug("Failed to parse request body",
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID),
		zap.Error(err))
	s.sendDetail(w, http.StatusBadRequest, "There was an error parsing the body")
}

// readUpload loads an uploaded part into memory. Filename and content type
// fall back to defaults when the client left them empty.
func readUpload(field string, header *multipart.FileHeader) (upstream.File, error) {
	f, err := header.Open()
	if err != nil {
		return upstream.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return upstream.File{}, err
	}

	filename := header.Filename
	if filename == "" {
		filename = constants.DefaultUploadFilename
	}
	contentType := header.Header.Get(constants.HeaderContentType)
	if contentType == "" {
		contentType = constants.ContentTypeOctetStream
	}

	return upstream.File{
		Field:       field,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

type required struct {
	name    string
	present bool
}

// missingFields returns the absent names in declaration order.
func missingFields(fields ...required) []string {
	var missing []string
	for _, f := range fields {
		if !f.present {
			missing = append(missing, f.name)
		}
	}
	return missing
}
