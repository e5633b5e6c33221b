package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/access"
	"kvartal/market/internal/api/handlers"
	"kvartal/market/internal/apperr"
	"kvartal/market/internal/config"
	"kvartal/market/internal/models"
	"kvartal/market/internal/services"
)

func listingTestConfig() *config.Config {
	return &config.Config{DefaultPageSize: 20, MaxPageSize: 100}
}

func setupListingRouter(mockSvc *handlers.ListingHandler, p access.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withPrincipal(p))
	router.GET("/v1/space/:id/listings", mockSvc.ListSpaceListings)
	router.GET("/v1/listing/:id", mockSvc.GetListing)
	router.PATCH("/v1/listing/:id", mockSvc.UpdateListing)
	return router
}

func TestListingHandler_ListParsesFilters(t *testing.T) {
	mockSvc := new(MockListingService)
	h := handlers.NewListingHandler(listingTestConfig(), mockSvc, nil, nil)
	p := access.User(primitive.NewObjectID(), models.RoleUser)
	router := setupListingRouter(h, p)

	spaceID := primitive.NewObjectID()
	catID := primitive.NewObjectID()

	mockSvc.On("ListByFilter", mock.Anything, p, mock.MatchedBy(func(f services.ListingFilter) bool {
		return f.Kind == models.KindProduct &&
			f.SpaceID == spaceID &&
			f.CategoryID != nil && *f.CategoryID == catID &&
			f.MinPrice != nil && *f.MinPrice == 10 &&
			f.MaxPrice != nil && *f.MaxPrice == 50 &&
			f.Search == "sofa" &&
			f.Page == 2 && f.PageSize == 5
	})).Return(&models.ListingPage{Items: []models.DecoratedListing{}, Page: 2, PageSize: 5}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/v1/space/"+spaceID.Hex()+"/listings?kind=product&category_id="+catID.Hex()+"&min_price=10&max_price=50&q=sofa&page=2&page_size=5", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestListingHandler_ListDefaultsPageAndSize(t *testing.T) {
	mockSvc := new(MockListingService)
	h := handlers.NewListingHandler(listingTestConfig(), mockSvc, nil, nil)
	p := access.Anonymous()
	router := setupListingRouter(h, p)

	spaceID := primitive.NewObjectID()
	mockSvc.On("ListByFilter", mock.Anything, p, mock.MatchedBy(func(f services.ListingFilter) bool {
		return f.Page == 1 && f.PageSize == 20
	})).Return(&models.ListingPage{Items: []models.DecoratedListing{}, Page: 1, PageSize: 20}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/space/"+spaceID.Hex()+"/listings", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListingHandler_ListRejectsMalformedParams(t *testing.T) {
	mockSvc := new(MockListingService)
	h := handlers.NewListingHandler(listingTestConfig(), mockSvc, nil, nil)
	router := setupListingRouter(h, access.Anonymous())

	spaceID := primitive.NewObjectID()
	for _, query := range []string{"page=abc", "page_size=x", "min_price=cheap", "category_id=zzz"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/v1/space/"+spaceID.Hex()+"/listings?"+query, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "query %q", query)
	}
	mockSvc.AssertNotCalled(t, "ListByFilter", mock.Anything, mock.Anything, mock.Anything)
}

func TestListingHandler_ErrorMapping(t *testing.T) {
	p := access.User(primitive.NewObjectID(), models.RoleUser)
	listingID := primitive.NewObjectID()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", apperr.NotFound("listing not found"), http.StatusNotFound},
		{"forbidden", apperr.Forbidden("only the author may modify this listing"), http.StatusForbidden},
		{"invalid state", apperr.InvalidState("cannot transition product listing from sold to active"), http.StatusUnprocessableEntity},
		{"timeout", apperr.Timeout("query timed out"), http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := new(MockListingService)
			h := handlers.NewListingHandler(listingTestConfig(), mockSvc, nil, nil)
			router := setupListingRouter(h, p)

			mockSvc.On("Update", mock.Anything, p, listingID, mock.Anything).Return(nil, tc.err)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPatch, "/v1/listing/"+listingID.Hex(),
				jsonBody(t, gin.H{"title": "New Title"}))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestListingHandler_GetInvalidID(t *testing.T) {
	mockSvc := new(MockListingService)
	h := handlers.NewListingHandler(listingTestConfig(), mockSvc, nil, nil)
	router := setupListingRouter(h, access.Anonymous())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/listing/not-an-id", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
