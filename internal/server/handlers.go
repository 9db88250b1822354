package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/sale"
)

// conflictMessage is the sentinel the HTTP binding looks for on a
// duplicate add. Changing it breaks every deployed client.
const conflictMessage = "exists"

type addItemResponse struct {
	Sale    sale.Sale `json:"sale"`
	Message string    `json:"message,omitempty"`
}

type deleteItemResponse struct {
	Message    string      `json:"message"`
	SaleStatus sale.Status `json:"sale_status"`
}

type paymentResponse struct {
	Sale   *sale.Sale `json:"sale,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleCreateSale(c *gin.Context) {
	var req facade.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid request body")
		return
	}

	created, err := s.svc.CreateEmptySale(c.Request.Context(), req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetSale(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}

	got, err := s.svc.GetSale(c.Request.Context(), saleID)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *Server) handleListSales(c *gin.Context) {
	if c.Query("today") != "1" {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "only today=1 listings are supported")
		return
	}

	var q facade.TodayQuery
	if raw := c.Query("operator_id"); raw != "" {
		operatorID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || operatorID <= 0 {
			s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid operator_id")
			return
		}
		q.OperatorID = &operatorID
	}

	sales, err := s.svc.GetTodaysSales(c.Request.Context(), q)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	if sales == nil {
		sales = []sale.Sale{}
	}
	c.JSON(http.StatusOK, sales)
}

func (s *Server) handleUpdateSale(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}

	var req facade.UpdateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid request body")
		return
	}

	updated, err := s.svc.UpdateSale(c.Request.Context(), saleID, req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleAddItem(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}

	var req facade.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid request body")
		return
	}

	res, err := s.svc.AddSaleItem(c.Request.Context(), saleID, req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	resp := addItemResponse{Sale: res.Sale}
	if res.AlreadyExists {
		resp.Message = conflictMessage
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpdateItem(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}
	lineID, ok := s.lineID(c)
	if !ok {
		return
	}

	var req facade.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid request body")
		return
	}

	updated, err := s.svc.UpdateSaleItem(c.Request.Context(), saleID, lineID, req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteItem(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}
	lineID, ok := s.lineID(c)
	if !ok {
		return
	}

	res, err := s.svc.DeleteSaleItem(c.Request.Context(), saleID, lineID)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteItemResponse{
		Message:    res.Message,
		SaleStatus: res.SaleStatus,
	})
}

func (s *Server) handleRecordPayment(c *gin.Context) {
	saleID, ok := s.saleID(c)
	if !ok {
		return
	}

	var req facade.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusUnprocessableEntity, sale.KindValidation, "invalid request body")
		return
	}

	res, err := s.svc.RecordPayment(c.Request.Context(), saleID, req)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentResponse{
		Sale:   res.Sale,
		Errors: res.Errors,
	})
}

// saleID parses the :id path segment. A malformed id reads the same as
// a vanished sale to the client, so it maps to NOT_FOUND.
func (s *Server) saleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(c, http.StatusNotFound, sale.KindNotFound, "sale not found")
		return 0, false
	}
	return id, true
}

func (s *Server) lineID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("lineID"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(c, http.StatusNotFound, sale.KindItemNotFound, "no cart line for product")
		return 0, false
	}
	return id, true
}

// writeServiceError translates a service failure into the wire error
// envelope: validation failures are 422, missing sales and lines 404,
// anything else 500.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	var se *sale.Error
	if !errors.As(err, &se) {
		s.logger.Error("unclassified service error", "error", err)
		s.writeError(c, http.StatusInternalServerError, sale.KindTransport, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case sale.KindValidation:
		status = http.StatusUnprocessableEntity
	case sale.KindNotFound, sale.KindItemNotFound:
		status = http.StatusNotFound
	}
	s.writeError(c, status, se.Kind, se.Message)
}

func (s *Server) writeError(c *gin.Context, status int, kind sale.ErrorKind, message string) {
	c.JSON(status, errorResponse{Error: errorBody{
		Kind:    string(kind),
		Message: message,
	}})
}

func (s *Server) abortError(c *gin.Context, status int, kind sale.ErrorKind, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{
		Kind:    string(kind),
		Message: message,
	}})
}
