package web

import (
	"database/sql"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/db"
	"github.com/hpungsan/hyperknow/internal/director"
	"github.com/hpungsan/hyperknow/internal/errors"
)

// maxAskBody bounds the size of a POST /ask body.
const maxAskBody = 64 << 10

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	director *director.Director
	db       *sql.DB
	renderer *Renderer
}

// askBody is the JSON form of POST /ask.
type askBody struct {
	Query string `json:"query"`
	Trace bool   `json:"trace,omitempty"`
}

func (h *Handlers) page(title, nav string) PageData {
	return PageData{Title: title, Version: h.renderer.version, Nav: nav}
}

// HandleAskPage handles GET /ask: the empty question form.
func (h *Handlers) HandleAskPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "ask", AskPageData{
		PageData: h.page("Ask", "ask"),
		Query:    r.URL.Query().Get("q"),
	})
}

// HandleAsk handles POST /ask. A JSON body gets a JSON result; a form post
// gets the rendered page.
func (h *Handlers) HandleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBody)

	var in askBody
	isJSON := false
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		isJSON = true
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid JSON body: "+err.Error()))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form body"))
			return
		}
		in.Query = r.PostForm.Get("query")
		in.Trace, _ = strconv.ParseBool(r.PostForm.Get("trace"))
	}

	res, err := h.director.Run(r.Context(), in.Query)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isJSON || wantsJSON(r) {
		if !in.Trace {
			res = res.Compact()
		}
		renderJSON(w, http.StatusOK, res)
		return
	}

	h.renderer.renderPage(w, r, "ask", AskPageData{
		PageData:   h.page("Ask", "ask"),
		Query:      in.Query,
		ShowTrace:  in.Trace,
		Result:     res,
		AnswerHTML: RenderMarkdown(res.Answer),
	})
}

// HandleProfiles handles GET /profiles: stored knowledge levels.
func (h *Handlers) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	levels, err := db.ListKnowledgeLevels(h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	count, err := db.CountDocuments(h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data := ProfilesPageData{
		PageData:  h.page("Profiles", "profiles"),
		Levels:    levels,
		Documents: count,
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"knowledge_levels": levels, "documents": count})
		return
	}
	h.renderer.renderPage(w, r, "profiles", data)
}

// HandleCapabilities handles GET /api/capabilities?max_cost=.
func (h *Handlers) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	maxCost := capability.Expensive
	if s := r.URL.Query().Get("max_cost"); s != "" {
		c, err := capability.ParseCostClass(s)
		if err != nil {
			r.Header.Set("Accept", "application/json")
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
		maxCost = c
	}

	reg := h.director.Registry()
	out := make([]capability.Descriptor, 0, reg.Len())
	for d := range reg.ListByCost(maxCost) {
		out = append(out, d)
	}
	renderJSON(w, http.StatusOK, map[string]any{"capabilities": out, "count": len(out)})
}
