package server

import (
	"net/http"

	"firealert/backend/registry"
	"firealert/backend/server/api"

	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterUser(c *gin.Context) {
	var args api.UserArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "user", err)
		return
	}
	u, err := s.registry.RegisterUser(c.Request.Context(), args.Name, args.Email, args.Role)
	if err != nil {
		respondError(c, "register user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) RegisterResponder(c *gin.Context) {
	var args api.ResponderArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "responder", err)
		return
	}
	r, err := s.registry.RegisterResponder(c.Request.Context(), registry.ResponderInput{
		Name:    args.Name,
		Email:   args.Email,
		Phone:   args.Phone,
		Address: args.Address,
		Coords:  args.Coords,
	})
	if err != nil {
		respondError(c, "register responder", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) ResponderDashboard(c *gin.Context) {
	responderID := c.Param("id")
	groups, err := s.alerts.ResponderDashboard(c.Request.Context(), responderID)
	if err != nil {
		respondError(c, "load responder dashboard", err)
		return
	}
	out := api.DashboardResponse{ResponderID: responderID, Sites: make([]api.SiteAlerts, 0, len(groups))}
	for i := range groups {
		out.Sites = append(out.Sites, api.SiteAlerts{
			Site:   api.ToSite(&groups[i].Site),
			Alerts: groups[i].Alerts,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) RegisterSite(c *gin.Context) {
	var args api.SiteArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "site", err)
		return
	}
	site, err := s.registry.RegisterSite(c.Request.Context(), registry.SiteInput{
		OwnerEmail:      args.OwnerEmail,
		Address:         args.Address,
		Coords:          args.Coords,
		MonitorPassword: args.MonitorPassword,
	})
	if err != nil {
		respondError(c, "register site", err)
		return
	}
	c.JSON(http.StatusCreated, api.ToSite(site))
}

func (s *Server) ListSites(c *gin.Context) {
	owner := c.Query("owner_email")
	if owner == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "owner_email is required"})
		return
	}
	sites, err := s.registry.SitesByOwner(c.Request.Context(), owner)
	if err != nil {
		respondError(c, "list sites", err)
		return
	}
	out := api.SitesResponse{Sites: make([]api.Site, 0, len(sites))}
	for i := range sites {
		out.Sites = append(out.Sites, api.ToSite(&sites[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) DeleteSite(c *gin.Context) {
	if err := s.registry.DeleteSite(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete site", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) VerifySitePassword(c *gin.Context) {
	var args api.SitePasswordArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "site password", err)
		return
	}
	ok, err := s.registry.VerifySitePassword(c.Request.Context(), c.Param("id"), args.Password)
	if err != nil {
		respondError(c, "verify site password", err)
		return
	}
	c.JSON(http.StatusOK, api.SitePasswordResponse{Valid: ok})
}

func (s *Server) RegisterSource(c *gin.Context) {
	var args api.SourceArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "source", err)
		return
	}
	src, err := s.registry.RegisterSource(c.Request.Context(), registry.SourceInput{
		SiteID:     args.SiteID,
		Label:      args.Label,
		Stream:     args.Stream,
		StreamType: args.StreamType,
	})
	if err != nil {
		respondError(c, "register source", err)
		return
	}
	c.JSON(http.StatusCreated, src)
}

// ListSources lists the sources of one site, or of every site of an owner.
func (s *Server) ListSources(c *gin.Context) {
	var (
		sources []registry.Source
		err     error
	)
	ctx := c.Request.Context()
	switch siteID, owner := c.Query("site_id"), c.Query("owner_email"); {
	case siteID != "":
		if _, err = s.registry.GetSite(ctx, siteID); err == nil {
			sources, err = s.registry.SourcesBySite(ctx, siteID)
		}
	case owner != "":
		sources, err = s.registry.SourcesByOwner(ctx, owner)
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "site_id or owner_email is required"})
		return
	}
	if err != nil {
		respondError(c, "list sources", err)
		return
	}
	if sources == nil {
		sources = []registry.Source{}
	}
	c.JSON(http.StatusOK, api.SourcesResponse{Sources: sources})
}

func (s *Server) DeleteSource(c *gin.Context) {
	if err := s.registry.DeleteSource(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete source", err)
		return
	}
	c.Status(http.StatusNoContent)
}
