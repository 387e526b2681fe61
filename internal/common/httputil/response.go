package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypePDF  = "application/pdf"
	ContentTypeText = "text/plain; charset=utf-8"
)

// JSON writes v as the response body.
func JSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		Text(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(ContentTypeJSON)
	ctx.SetBody(body)
}

// Text writes a plain text response.
func Text(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(ContentTypeText)
	ctx.SetBodyString(message)
}

// Attachment writes data as a downloadable file.
func Attachment(ctx *fasthttp.RequestCtx, contentType, filename string, data []byte) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(contentType)
	ctx.Response.Header.Set(fasthttp.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	ctx.SetBody(data)
}
