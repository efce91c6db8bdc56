package mapper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/backend/xmldoc"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
	"github.com/JonMunkholm/docmapper/internal/store/memstore"
)

func parseNode(t *testing.T, doc string) backend.Node {
	t.Helper()
	n, err := backend.Load(xmldoc.New(), strings.NewReader(doc), "test")
	require.NoError(t, err)
	return n
}

func compile(t *testing.T, path string) backend.Query {
	t.Helper()
	q, err := xmldoc.New().Compile(path)
	require.NoError(t, err)
	return q
}

func TestFieldResolver(t *testing.T) {
	node := parseNode(t, `<item><title> Hello </title><tag>a</tag><tag>b</tag></item>`)
	upper, err := hook.NewRegistry().Resolve(hook.Upper)
	require.NoError(t, err)

	tests := []struct {
		name    string
		desc    *schema.FieldDescriptor
		want    any
		wantErr error
	}{
		{name: "single match", desc: &schema.FieldDescriptor{Name: "title", Query: compile(t, "title")}, want: "Hello"},
		{name: "hook", desc: &schema.FieldDescriptor{Name: "title", Query: compile(t, "title"), Hook: upper}, want: "HELLO"},
		{name: "no match", desc: &schema.FieldDescriptor{Name: "link", Query: compile(t, "link")}, wantErr: ErrQueryNotFound},
		{name: "optional no match", desc: &schema.FieldDescriptor{Name: "link", Query: compile(t, "link"), Optional: true}, want: nil},
		{name: "multiple", desc: &schema.FieldDescriptor{Name: "tag", Query: compile(t, "tag")}, wantErr: ErrQueryMultiple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFieldResolver("News", tt.desc, nil).Resolve(context.Background(), node)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsRecoverable(err))

				var qe *QueryError
				require.True(t, errors.As(err, &qe))
				assert.Equal(t, "News", qe.EntityType)
				assert.Equal(t, tt.desc.Name, qe.Field)
				assert.Equal(t, tt.desc.Query.Path(), qe.Query)
				assert.Contains(t, qe.Source, "Hello")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldResolver_HookError(t *testing.T) {
	node := parseNode(t, `<item><count>many</count></item>`)
	numeric, err := hook.NewRegistry().Resolve(hook.Numeric)
	require.NoError(t, err)

	r := NewFieldResolver("News", &schema.FieldDescriptor{Name: "count", Query: compile(t, "count"), Hook: numeric}, nil)
	_, err = r.Resolve(context.Background(), node)
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))

	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, hook.Numeric, he.Hook)
	assert.Equal(t, "many", he.Value)
}

func TestFieldResolver_ReferenceIsIdempotent(t *testing.T) {
	c, err := model.ParseCatalog([]byte("entities:\n  - name: Author\n    attributes: [name]\n"))
	require.NoError(t, err)
	author, err := c.Lookup("Author")
	require.NoError(t, err)
	nameAttr, err := author.Attribute("name")
	require.NoError(t, err)

	st := memstore.New()
	r := NewFieldResolver("Book", &schema.FieldDescriptor{
		Name:        "author",
		Query:       compile(t, "author"),
		EntityType:  author,
		LookupField: nameAttr,
	}, st)

	node := parseNode(t, `<book><author>Tolstoy</author></book>`)
	first, err := r.Resolve(context.Background(), node)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), node)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, st.Count(author))
}

func TestIsRecoverable(t *testing.T) {
	assert.False(t, IsRecoverable(nil))
	assert.False(t, IsRecoverable(errors.New("disk full")))
	assert.False(t, IsRecoverable(context.Canceled))
	assert.True(t, IsRecoverable(fmt.Errorf("wrap: %w", model.ErrInvalidValue)))
	assert.True(t, IsRecoverable(&QueryError{Err: ErrQueryMultiple}))
}

func TestQueryError_Message(t *testing.T) {
	err := &QueryError{Err: ErrQueryMultiple, EntityType: "News", Field: "title", Query: "title", Count: 2, Source: "a b"}
	assert.Equal(t, `News.title: title: query matched multiple nodes (2 matches) in "a b"`, err.Error())
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("  a\n\tb   c "))
	long := strings.Repeat("x", sourceSnippetLen+10)
	assert.Len(t, snippet(long), sourceSnippetLen+3)
}

func TestSnippet_CutsOnRuneBoundary(t *testing.T) {
	got := snippet("ab" + strings.Repeat("Технология ", 20))
	assert.True(t, utf8.ValidString(got), "snippet %q is not valid UTF-8", got)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), sourceSnippetLen+3)
	assert.True(t, strings.HasPrefix(got, "abТехнология"))
}
