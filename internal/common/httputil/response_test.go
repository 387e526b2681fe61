package httputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestJSON(t *testing.T) {
	var ctx fasthttp.RequestCtx
	JSON(&ctx, fasthttp.StatusOK, map[string]int{"capacity": 4})

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, ContentTypeJSON, string(ctx.Response.Header.ContentType()))
	assert.JSONEq(t, `{"capacity":4}`, string(ctx.Response.Body()))
}

func TestJSON_Unencodable(t *testing.T) {
	var ctx fasthttp.RequestCtx
	JSON(&ctx, fasthttp.StatusOK, map[string]any{"fn": func() {}})

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}

func TestText(t *testing.T) {
	var ctx fasthttp.RequestCtx
	Text(&ctx, fasthttp.StatusRequestTimeout, "Request timed out")

	assert.Equal(t, fasthttp.StatusRequestTimeout, ctx.Response.StatusCode())
	assert.Equal(t, "Request timed out", string(ctx.Response.Body()))
}

func TestAttachment(t *testing.T) {
	var ctx fasthttp.RequestCtx
	Attachment(&ctx, ContentTypePDF, "output.pdf", []byte("%PDF-1.7"))

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, ContentTypePDF, string(ctx.Response.Header.ContentType()))
	assert.Equal(t, `attachment; filename="output.pdf"`, string(ctx.Response.Header.Peek(fasthttp.HeaderContentDisposition)))
	assert.Equal(t, "%PDF-1.7", string(ctx.Response.Body()))
}
