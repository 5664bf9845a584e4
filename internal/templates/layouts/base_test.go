package layouts

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"
)

func renderBase(t *testing.T, data PageData, body templ.Component) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	ctx := templ.WithChildren(context.Background(), body)
	require.NoError(t, Base(data).Render(ctx, &buf))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

func TestBaseWrapsChildrenAndExposesToken(t *testing.T) {
	token := `tok"en<`
	doc := renderBase(t, PageData{Title: "Home", CSRFToken: token, Live: true}, CSRFField(token))

	require.Equal(t, "Home | Bookfinder", doc.Find("title").Text())
	require.Equal(t, token, doc.Find("meta[name=csrf-token]").AttrOr("content", ""))
	require.Equal(t, token, doc.Find("main.page input[name=_csrf]").AttrOr("value", ""))
	require.Equal(t, 1, doc.Find("script[src='/public/static/live.js']").Length())

	var headers map[string]string
	require.NoError(t, json.Unmarshal([]byte(doc.Find("body").AttrOr("hx-headers", "")), &headers))
	require.Equal(t, map[string]string{"X-CSRF-Token": token}, headers)
}

func TestBaseDefaultsTitleAndSkipsLiveScript(t *testing.T) {
	doc := renderBase(t, PageData{Title: "  "}, templ.NopComponent)

	require.Equal(t, "Bookfinder", doc.Find("title").Text())
	require.Zero(t, doc.Find("script[src='/public/static/live.js']").Length())
	require.Empty(t, doc.Find("main.page").Children().Nodes)
}
