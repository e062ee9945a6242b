package query

import (
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestValidateArguments(t *testing.T) {
	tmpl, err := Parse("params", `SELECT * FROM employee
WHERE dept = /*pmb.dept*/1
/*FOR tag IN tags*/ AND tag = /*tag*/'x' /*END*/
/*IF limit > 0*/LIMIT /*limit*/10/*END*/`)
	assert.NoError(t, err)

	assert.NoError(t, ValidateArguments(tmpl, map[string]any{"pmb": map[string]any{}, "tags": nil, "limit": 1}))

	err = ValidateArguments(tmpl, map[string]any{"pmb": map[string]any{}})
	assert.IsError(t, err, ErrMissingRequiredParam)
	assert.EqualError(t, err, "missing required parameter: limit, tags")
}

func TestLoadParams(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"params.yaml": "pmb:\n  name: Alice\n  dept: [10, 20]\nactive: true\n",
		"params.json": `{"pmb": {"name": "Bob", "dept": [10, 20], "rate": 1.5}, "active": null}`,
		"broken.json": `{"pmb": `,
	})

	params, err := LoadParams(filepath.Join(dir, "params.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{
		"pmb":    map[string]any{"name": "Alice", "dept": []any{10, 20}},
		"active": true,
	}, params)

	params, err = LoadParams(filepath.Join(dir, "params.json"))
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{
		"pmb":    map[string]any{"name": "Bob", "dept": []any{int64(10), int64(20)}, "rate": 1.5},
		"active": nil,
	}, params)

	_, err = LoadParams(filepath.Join(dir, "broken.json"))
	assert.IsError(t, err, ErrInvalidParams)

	_, err = LoadParams(filepath.Join(dir, "missing.yaml"))
	assert.IsError(t, err, ErrInvalidParams)
}

func TestSetParam(t *testing.T) {
	params := map[string]any{"pmb": map[string]any{"name": "Alice"}}

	for _, assignment := range []string{
		"pmb.dept=10",
		"pmb.code='10'",
		"pmb.memo=null",
		"pmb.tags=[a, b]",
		"limit=",
		"where=a=b",
	} {
		assert.NoError(t, SetParam(params, assignment))
	}

	assert.Equal(t, map[string]any{
		"pmb": map[string]any{
			"name": "Alice",
			"dept": 10,
			"code": "10",
			"memo": nil,
			"tags": []any{"a", "b"},
		},
		"limit": "",
		"where": "a=b",
	}, params)

	assert.IsError(t, SetParam(params, "novalue"), ErrInvalidParams)
	assert.IsError(t, SetParam(params, "=1"), ErrInvalidParams)
}
