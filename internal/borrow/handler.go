package borrow

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 1. 貸出オーダー
	// POST /borrow/orders (multipart: payload + summary_image)
	r.POST("/borrow/orders", h.CreateOrder)
	// GET /borrow/orders (一覧・検索)
	r.GET("/borrow/orders", h.ListOrders)
	// GET /borrow/orders/pending (承認画面用)
	r.GET("/borrow/orders/pending", h.PendingOrders)
	// GET /borrow/orders/:order_ulid
	r.GET("/borrow/orders/:order_ulid", h.GetOrder)

	// 2. 承認/却下・延長
	r.POST("/borrow/orders/:order_ulid/decision", h.Decide)
	r.PATCH("/borrow/orders/:order_ulid/due-date", h.Extend)

	// 3. 返却（スキャン一括）
	r.POST("/borrow/returns", h.ReturnItems)

	// 4. 資産起点 (QR Scan)
	r.GET("/borrow/check", h.CheckAsset)
}

// ---------- handlers ----------

// POST /borrow/orders
// multipart/form-data: payload(JSON) + summary_image(任意)。
// JSONだけの application/json も受け付ける。
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := bindWithImage(c, &req, func(img *UploadedImage) { req.Image = img }); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
		return
	}

	res, err := h.svc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/borrow/orders/"+res.OrderULID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetOrder(c *gin.Context) {
	res, err := h.svc.GetOrder(c.Request.Context(), c.Param("order_ulid"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListOrders(c *gin.Context) {
	f := OrderFilter{BorrowerID: c.Query("borrower_id")}
	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, OrderStatus(strings.TrimSpace(s)))
		}
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	res, err := h.svc.ListOrders(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) PendingOrders(c *gin.Context) {
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "asc"),
	}
	res, err := h.svc.PendingOrders(c.Request.Context(), p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.Decide(c.Request.Context(), c.Param("order_ulid"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ReturnItems(c *gin.Context) {
	var req ReturnItemsRequest
	if err := bindWithImage(c, &req, func(img *UploadedImage) { req.Image = img }); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
		return
	}
	res, err := h.svc.ReturnItems(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Extend(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Extend(c.Request.Context(), c.Param("order_ulid"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /borrow/check?asset_number=...
func (h *Handler) CheckAsset(c *gin.Context) {
	res, err := h.svc.CheckAsset(c.Request.Context(), c.Query("asset_number"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

const maxImageBytes = 10 << 20 // 10MiB

// bindWithImage は application/json と multipart/form-data の両方を受ける。
// multipart の場合は "payload" フィールドのJSONを dst に、
// "summary_image" を setImage に渡す。
func bindWithImage(c *gin.Context, dst any, setImage func(*UploadedImage)) error {
	ct := c.ContentType()
	if !strings.HasPrefix(ct, "multipart/form-data") {
		return c.ShouldBindJSON(dst)
	}

	payload := c.PostForm("payload")
	if payload == "" {
		return errInvalidPayload
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return errInvalidPayload
	}

	fh, err := c.FormFile("summary_image")
	if err != nil {
		return nil // 画像は任意
	}
	img, err := readImage(fh)
	if err != nil {
		return err
	}
	setImage(img)
	return nil
}

var errInvalidPayload = &APIError{Code: CodeInvalidArgument, Message: "payload field must contain valid json"}

func readImage(fh *multipart.FileHeader) (*UploadedImage, error) {
	if fh.Size > maxImageBytes {
		return nil, &APIError{Code: CodeInvalidArgument, Message: "image too large"}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		return nil, err
	}
	return &UploadedImage{FileName: fh.Filename, Data: data}, nil
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	var details any
	if api, ok := err.(*APIError); ok {
		code, msg, details = api.Code, api.Message, api.Details
	} else {
		msg = err.Error()
	}
	e := errorBody(code, msg)
	e.Error.Details = details
	return e
}
