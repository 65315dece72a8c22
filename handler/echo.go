package handler

import (
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
)

// Register mounts the API routes on an echo server. Requests are converted to
// API Gateway proxy events so local and Lambda deployments share one code path.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/chat", h.Echo)
	e.GET("/assessment/questions/:type", h.Echo)
	e.POST("/assessment/:type", h.Echo)
}

func (h *Handler) Echo(c echo.Context) error {
	r := c.Request()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string)
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	resp, err := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	if err != nil {
		return err
	}

	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}
	return c.Blob(resp.StatusCode, resp.Headers["Content-Type"], []byte(resp.Body))
}
