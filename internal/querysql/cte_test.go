package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/dialect"
)

const treeQuery = `with recursive tree(id, parent, depth) as (
	select n.id, n.parent.id, 0 from Node n where n.parent is null
	union all
	select c.id, c.parent.id, t.depth + 1 from Node c join tree t on c.parent.id = t.id
) search depth first by id set ord
  cycle id set looped to 'Y' default 'N' using trail
select t.id, t.ord, t.looped from tree t order by t.ord`

func TestCTE_NativeSearchCycle(t *testing.T) {
	plan := compile(t, dialect.PostgreSQL, treeQuery, Options{})
	assert.Contains(t, plan.SQL, "with recursive tree (id, parent, depth) as (")
	assert.Contains(t, plan.SQL, ") search depth first by id set ord cycle id set looped to 'Y' default 'N' using trail ")
	assert.Regexp(t, `order by t\d_0\.ord$`, plan.SQL)
}

func TestCTE_EmulatedSearchCycle(t *testing.T) {
	plan := compile(t, dialect.SQLite, treeQuery, Options{})
	assert.NotContains(t, plan.SQL, " search ")
	assert.NotContains(t, plan.SQL, " cycle ")
	assert.Contains(t, plan.SQL, "with recursive tree (id, parent, depth, ord, looped, trail) as (")
	// depth-first path of zero-padded ids
	assert.Contains(t, plan.SQL, "substr('00000000000000000000' || cast(")
	// rows already on the path are marked and not expanded further
	assert.Contains(t, plan.SQL, "like '%/' || ")
	// path values never carry a delimiter or a wildcard of their own
	assert.Contains(t, plan.SQL, "replace(replace(replace(replace(replace(cast(")
	assert.Contains(t, plan.SQL, ", '_', '~u')")
	assert.Contains(t, plan.SQL, ".looped = 'N'")

	mysql := compile(t, dialect.MySQL, treeQuery, Options{})
	assert.Contains(t, mysql.SQL, "lpad(cast(")
	assert.Contains(t, mysql.SQL, "concat(")
}

func TestCTE_BreadthFirstAddsDepthColumn(t *testing.T) {
	text := `with recursive tree(id, parent) as (
		select n.id, n.parent.id from Node n where n.parent is null
		union all
		select c.id, c.parent.id from Node c join tree t on c.parent.id = t.id
	) search breadth first by id set ord
	select t.id from tree t order by t.ord`
	plan := compile(t, dialect.H2, text, Options{})
	assert.Contains(t, plan.SQL, "tree (id, parent, ord, ord_depth)")
	assert.Contains(t, plan.SQL, ".ord_depth + 1")
}

func TestCTE_NonRecursiveOnSQLServer(t *testing.T) {
	plan := compile(t, dialect.SQLServer,
		`with adults as (select p.id as pid, p.name as name from Person p where p.age >= 18)
		 select a.name from adults a`, Options{})
	require.NotEmpty(t, plan.SQL)
	assert.Contains(t, plan.SQL, "with adults (pid, name) as (select ")
	assert.NotContains(t, plan.SQL, "recursive")
}
