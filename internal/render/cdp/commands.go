package cdp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"

	"github.com/edgecomet/pdfrender/internal/render/renderr"
)

// Fixed A4 page geometry in inches.
const (
	PaperWidthInches  = 8.27
	PaperHeightInches = 11.7
)

// Method names used by the render workflow.
var (
	MethodSetDocumentContent = page.CommandSetDocumentContent
	MethodPrintToPDF         = page.CommandPrintToPDF
)

// SetDocumentContent builds the params replacing the document of frameID with html.
func SetDocumentContent(frameID, html string) *page.SetDocumentContentParams {
	return page.SetDocumentContent(cdptypes.FrameID(frameID), html)
}

// PrintToPDF builds the print params: A4, zero margins, backgrounds on.
func PrintToPDF(landscape bool) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithLandscape(landscape).
		WithPrintBackground(true).
		WithPaperWidth(PaperWidthInches).
		WithPaperHeight(PaperHeightInches).
		WithMarginTop(0).
		WithMarginBottom(0).
		WithMarginLeft(0).
		WithMarginRight(0)
}

// DecodePrintResult extracts and decodes the base64 "data" field of a
// Page.printToPDF result.
func DecodePrintResult(result json.RawMessage) ([]byte, error) {
	var ret page.PrintToPDFReturns
	if len(result) > 0 {
		if err := json.Unmarshal(result, &ret); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, renderr.New(renderr.KindDecode, "decode print result", err)
			}
			return nil, renderr.New(renderr.KindBrowserRender, "read print result", err)
		}
	}
	if ret.Data == "" {
		return nil, renderr.New(renderr.KindBrowserRender, "read print result", fmt.Errorf("result has no data"))
	}

	pdf, err := base64.StdEncoding.DecodeString(ret.Data)
	if err != nil {
		return nil, renderr.New(renderr.KindDecode, "decode print result", err)
	}
	if len(pdf) == 0 {
		return nil, renderr.New(renderr.KindBrowserRender, "decode print result", fmt.Errorf("decoded payload is empty"))
	}
	return pdf, nil
}
