package inventory_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		want       inventory.Record
		wantReason string
	}{
		{
			name: "well formed",
			raw:  "10.0.0.1,ADMIN,oldpass,newpass",
			want: inventory.Record{Line: 7, Address: "10.0.0.1", User: "ADMIN", OldCredential: "oldpass", NewCredential: "newpass"},
		},
		{
			name: "fields are trimmed",
			raw:  "  bmc-01.example.net , root ,  calvin , S3cret!  ",
			want: inventory.Record{Line: 7, Address: "bmc-01.example.net", User: "root", OldCredential: "calvin", NewCredential: "S3cret!"},
		},
		{
			name: "quoted field with comma",
			raw:  `10.0.0.2,admin,"a,b","c""d"`,
			want: inventory.Record{Line: 7, Address: "10.0.0.2", User: "admin", OldCredential: "a,b", NewCredential: `c"d`},
		},
		{
			name: "reserved punctuation",
			raw:  `10.0.0.3,admin,p@$$;|&,x'y"z`,
			want: inventory.Record{Line: 7, Address: "10.0.0.3", User: "admin", OldCredential: "p@$$;|&", NewCredential: `x'y"z`},
		},
		{
			name:       "missing field",
			raw:        "10.0.0.4,admin,oldpass",
			wantReason: "expected 4 fields, got 3",
		},
		{
			name:       "extra field",
			raw:        "10.0.0.5,admin,old,new,userpass",
			wantReason: "expected 4 fields, got 5",
		},
		{
			name:       "empty old password",
			raw:        "10.0.0.6,admin,,new",
			wantReason: "missing old-password",
		},
		{
			name:       "empty line",
			raw:        "",
			wantReason: "expected 4 fields, got 0",
		},
		{
			name:       "whitespace only",
			raw:        " \t ",
			wantReason: "expected 4 fields, got 0",
		},
		{
			name:       "several empty fields",
			raw:        " , ,old, ",
			wantReason: "missing address, user, new-password",
		},
	}

	p := inventory.NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.ParseLine(7, tt.raw)
			if tt.wantReason != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantReason, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec)
		})
	}
}

func TestParse_MixedInput(t *testing.T) {
	input := strings.Join([]string{
		"10.0.0.1,admin,old1,new1",
		"10.0.0.2,admin,old2",
		"",
		"   ",
		"10.0.0.3,admin,old3,new3",
	}, "\n")

	records, malformed, err := inventory.Parse(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "10.0.0.1", records[0].Address)
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, "10.0.0.3", records[1].Address)
	assert.Equal(t, 5, records[1].Line)

	require.Len(t, malformed, 3)
	assert.Equal(t, 2, malformed[0].Line)
	assert.Equal(t, "10.0.0.2,admin,old2", malformed[0].Raw)
	assert.Contains(t, malformed[0].Reason, "expected 4 fields")
	assert.Equal(t, 3, malformed[1].Line)
	assert.Equal(t, "expected 4 fields, got 0", malformed[1].Reason)
	assert.Equal(t, 4, malformed[2].Line)
	assert.Equal(t, "   ", malformed[2].Raw)
}

func TestParse_EveryLineAccountedFor(t *testing.T) {
	input := "10.0.0.1,a,b,c\n\n   \n10.0.0.2,a,b,c\n"

	records, malformed, err := inventory.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Len(t, malformed, 2)
}

func TestParse_DuplicatesAreIndependent(t *testing.T) {
	input := "10.0.0.1,admin,a,b\n10.0.0.1,admin,a,b\n"

	records, malformed, err := inventory.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, malformed)
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].Line, records[1].Line)
}

func TestParse_CRLFAndBOM(t *testing.T) {
	input := "\ufeff10.0.0.1,admin,old,new\r\n10.0.0.2,admin,old,new\r\n"

	records, malformed, err := inventory.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, malformed)
	require.Len(t, records, 2)
	assert.Equal(t, "10.0.0.1", records[0].Address)
	assert.Equal(t, "new", records[1].NewCredential)
}

func TestParse_Comments(t *testing.T) {
	input := "# fleet east\n\n10.0.0.1,admin,old,new\n"

	t.Run("comments rejected by default", func(t *testing.T) {
		records, malformed, err := inventory.Parse(strings.NewReader(input))
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Len(t, malformed, 2)
	})

	t.Run("comments skipped when allowed", func(t *testing.T) {
		p := &inventory.Parser{AllowComments: true}
		records, malformed, err := p.Parse(strings.NewReader(input))
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Empty(t, malformed)
	})
}

func TestParse_ControlCharactersReachEngine(t *testing.T) {
	input := "10.0.0.1,admin,old\x01pass,new\x00pass\n"

	records, malformed, err := inventory.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, malformed)
	require.Len(t, records, 1)
	assert.Equal(t, "old\x01pass", records[0].OldCredential)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestParse_ReaderError(t *testing.T) {
	_, _, err := inventory.Parse(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestRecord_StringHidesCredentials(t *testing.T) {
	rec := inventory.Record{Line: 3, Address: "10.0.0.9", User: "admin", OldCredential: "oldsecret", NewCredential: "newsecret"}

	s := rec.String()
	assert.Equal(t, "admin@10.0.0.9 (line 3)", s)
	assert.NotContains(t, s, "secret")
}
