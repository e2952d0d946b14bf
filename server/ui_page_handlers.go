package server

import (
	"net/http"
	"strconv"

	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/rs/zerolog/log"
)

const (
	defaultSliceIndex = 94
	maxUploadMemory   = 32 << 20
)

// LandingView contains data for rendering the landing page
type LandingView struct {
	MFAVerifiedAt string
}

type HistoryView struct {
	Entries []restapi.HistoryEntry
}

type ResultsView struct {
	ID         string
	Prediction string
	VolumeURL  string
	VolumeName string
	SliceIndex int
	MaxIndex   int
	PrevSlice  int
	NextSlice  int
	Errors     []string
}

func predictionLabel(result int) string {
	return restapi.Prediction{ModelResult: result}.Label()
}

// RootHandler sends / to the landing page
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectSuccess(w, r, RouteLanding)
	}
}

// CatchAllHandler sends unknown paths to the not found page
func (s *Server) CatchAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectSuccess(w, r, RouteNotFound)
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, "not_found.html", http.StatusNotFound, PageData{Title: "Page not found"})
	}
}

func (s *Server) LandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := &LandingView{}
		if state, ok := authStateFrom(r.Context()); ok && state.User != nil {
			if at, ok := s.tokens.MFAVerifiedAt(state.User.ID); ok {
				view.MFAVerifiedAt = at.Local().Format("2 Jan 2006 15:04")
			}
		}
		s.render(w, r, "landing.html", http.StatusOK, PageData{Title: "Welcome", Landing: view})
	}
}

func (s *Server) UploadPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, "upload.html", http.StatusOK, PageData{
			Title: "Upload a scan",
			Error: r.URL.Query().Get("error"),
		})
	}
}

// UploadSubmitHandler forwards the scan to the backend and opens its results.
func (s *Server) UploadSubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			redirectWithError(w, r, RouteUpload, "Invalid upload")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			redirectWithError(w, r, RouteUpload, "Please choose a file to upload")
			return
		}
		defer file.Close()

		upload := restapi.UploadRequest{
			FileName: header.Filename,
			File:     file,
			Fields:   map[string]string{},
		}
		if state, ok := authStateFrom(r.Context()); ok && state.User != nil {
			upload.UserID = state.User.ID
		}
		for key, values := range r.MultipartForm.Value {
			if key != "user_id" && len(values) > 0 {
				upload.Fields[key] = values[0]
			}
		}

		result, err := s.api.Upload(r.Context(), upload)
		if err != nil {
			log.Err(err).Str("component", "server").Msg("Upload failed")
			redirectWithError(w, r, RouteUpload, apiMessage(err, "Upload failed. Please try again."))
			return
		}
		redirectSuccess(w, r, "/results/"+result.FMRIID.String())
	}
}

func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := PageData{Title: "History", History: &HistoryView{}}

		state, _ := authStateFrom(r.Context())
		if state.User == nil || state.User.ID == "" {
			data.Error = "Could not determine the current user."
			s.render(w, r, "history.html", http.StatusOK, data)
			return
		}

		entries, err := s.api.History(r.Context(), state.User.ID)
		if err != nil {
			log.Err(err).Str("component", "server").Msg("Failed to fetch history")
			data.Error = apiMessage(err, "Failed to load history. Please try again.")
		}
		data.History.Entries = entries
		s.render(w, r, "history.html", http.StatusOK, data)
	}
}

// ResultsHandler shows the classifier result, the volume download and one slice.
// Each part fails on its own so one unavailable endpoint does not hide the others.
func (s *Server) ResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			redirectSuccess(w, r, RouteNotFound)
			return
		}
		ctx := r.Context()

		view := &ResultsView{ID: id, SliceIndex: defaultSliceIndex}
		if v, err := strconv.Atoi(r.URL.Query().Get("slice")); err == nil && v >= 0 {
			view.SliceIndex = v
		}

		if p, err := s.api.ModelPrediction(ctx, id); err != nil {
			log.Err(err).Str("component", "server").Str("fmri_id", id).Msg("Failed to fetch model prediction")
			view.Errors = append(view.Errors, "Failed to fetch model prediction")
		} else {
			view.Prediction = p.Label()
		}

		if f, err := s.api.Volume3D(ctx, id); err != nil {
			log.Err(err).Str("component", "server").Str("fmri_id", id).Msg("Failed to fetch brain volume")
			view.Errors = append(view.Errors, "Failed to fetch brain data")
		} else {
			view.VolumeURL = s.api.ResolveURL(f.URL)
			view.VolumeName = f.Filename
		}

		if slice, err := s.api.Slice2D(ctx, id, view.SliceIndex); err != nil {
			log.Err(err).Str("component", "server").Str("fmri_id", id).Int("slice", view.SliceIndex).Msg("Failed to fetch brain slice")
			view.Errors = append(view.Errors, "Failed to fetch brain slice")
		} else {
			view.MaxIndex = slice.MaxIndex
			if view.SliceIndex > view.MaxIndex {
				view.SliceIndex = view.MaxIndex
			}
		}
		view.PrevSlice = max(view.SliceIndex-1, 0)
		view.NextSlice = min(view.SliceIndex+1, view.MaxIndex)

		s.render(w, r, "results.html", http.StatusOK, PageData{Title: "Results", Results: view})
	}
}

// ResultsCleanupHandler removes the backend's temporary files when the user leaves a
// results page, then continues to the requested page.
func (s *Server) ResultsCleanupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.api.DeleteTempFiles(r.Context()); err != nil {
			log.Err(err).Str("component", "server").Msg("Failed to delete temporary files")
		}
		next := RouteHistory
		if p, ok := localPath(r.FormValue("next")); ok {
			next = p
		}
		redirectSuccess(w, r, next)
	}
}
