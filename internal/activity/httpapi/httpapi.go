// Package httpapi exposes the activity feed and heatmap read paths (C3, C4)
// over HTTP, in the gorilla/mux handler style used throughout this module.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowlane/pulsefeed/infrastructure/httputil"
	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/internal/activity"
)

// API holds the read-path collaborators and registers the feed/heatmap
// routes onto a mux.Router.
type API struct {
	feed    *activity.FeedReader
	heatmap *activity.HeatmapReader
	log     *logging.Logger
}

// New constructs an API.
func New(feed *activity.FeedReader, heatmap *activity.HeatmapReader, log *logging.Logger) *API {
	return &API{feed: feed, heatmap: heatmap, log: log}
}

// Register mounts the activity feed routes under router.
func (a *API) Register(router *mux.Router) {
	router.HandleFunc("/feed/project/{project_id}", a.projectFeed).Methods(http.MethodGet)
	router.HandleFunc("/feed/project/{project_id}/heatmap", a.heatmapFeed).Methods(http.MethodGet)
	router.HandleFunc("/feed/folder/{folder_id}", a.folderFeed).Methods(http.MethodGet)
	router.HandleFunc("/feed/element/{element_id}", a.elementFeed).Methods(http.MethodGet)
}

func (a *API) projectFeed(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	actorID := httputil.GetUserID(r)
	page, size := pagingParams(r)

	result, err := a.feed.GetProjectFeed(r.Context(), projectID, actorID, page, size)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *API) folderFeed(w http.ResponseWriter, r *http.Request) {
	folderID := mux.Vars(r)["folder_id"]
	actorID := httputil.GetUserID(r)
	page, size := pagingParams(r)

	result, err := a.feed.GetFolderFeed(r.Context(), folderID, actorID, page, size)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *API) elementFeed(w http.ResponseWriter, r *http.Request) {
	elementID := mux.Vars(r)["element_id"]
	actorID := httputil.GetUserID(r)
	page, size := pagingParams(r)

	result, err := a.feed.GetElementFeed(r.Context(), elementID, actorID, page, size)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *API) heatmapFeed(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]

	startRaw := httputil.QueryString(r, "start_date", "")
	endRaw := httputil.QueryString(r, "end_date", "")
	actorFilter := httputil.QueryString(r, "user_id_filter", "")

	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		httputil.BadRequest(w, "start_date must be an ISO date (YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		httputil.BadRequest(w, "end_date must be an ISO date (YYYY-MM-DD)")
		return
	}

	points, err := a.heatmap.GetHeatmap(r.Context(), projectID, start, end, actorFilter)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

func pagingParams(r *http.Request) (int, int) {
	page := httputil.QueryInt(r, "page", 1)
	size := httputil.QueryInt(r, "size", 20)
	return page, size
}

func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *activity.ValidationError:
		httputil.BadRequest(w, e.Error())
	case *activity.ForbiddenError:
		httputil.Forbidden(w, e.Error())
	case *activity.NotFoundError:
		httputil.NotFound(w, e.Error())
	default:
		if a.log != nil {
			a.log.Error(r.Context(), "activity feed handler failed", err, map[string]interface{}{"path": r.URL.Path})
		}
		httputil.InternalError(w, "internal server error")
	}
}
