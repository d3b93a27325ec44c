package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/store"
)

// SampleData seeds the sample schema.
//
//	companies  1 Acme (ACME), 2 Globex (GLBX); Acme partners with Globex
//	persons    1 Ann and 2 Bob work for Acme, 3 Cid for Globex, 4 Dee for
//	           nobody; Ann befriends Bob and Cid, Bob befriends Ann, Cid
//	           befriends Dee
//	pets       1 Rex (dog) and 2 Tom (cat) belong to Ann, 3 Fido (dog) to Bob
//	vehicles   1 car and 2 truck belong to Ann, 3 plain vehicle to Bob
//	nodes      1 root <- 2 a, 3 b; 2 a <- 4 c
//	orders     1 PO-1 with lines (1,1) bolt and (1,2) nut
const SampleData = `
INSERT INTO company (id, name, code, street, city) VALUES
	(1, 'Acme', 'ACME', 'Main St', 'Springfield'),
	(2, 'Globex', 'GLBX', 'Elm St', 'Shelbyville');
INSERT INTO company_partner (company_id, partner_id) VALUES (1, 2);
INSERT INTO person (id, name, age, balance, active, born, employer_id, employer_code) VALUES
	(1, 'Ann', 34, '120.50', 1, '1990-01-02 00:00:00', 1, 'ACME'),
	(2, 'Bob', 41, '80.00', 0, '1983-05-06 00:00:00', 1, 'ACME'),
	(3, 'Cid', 28, '0', 1, NULL, 2, 'GLBX'),
	(4, 'Dee', 19, NULL, 1, NULL, NULL, NULL);
INSERT INTO person_friend (person_id, friend_id) VALUES (1, 2), (1, 3), (2, 1), (3, 4);
INSERT INTO pet (id, kind, name, owner_id, barks, dog_tag, lives, cat_tag) VALUES
	(1, 'dog', 'Rex', 1, 1, 'R-1', NULL, NULL),
	(2, 'cat', 'Tom', 1, NULL, NULL, 9, 7),
	(3, 'dog', 'Fido', 2, 0, 'F-2', NULL, NULL);
INSERT INTO vehicle (id, plate, owner_id) VALUES (1, 'AB-1', 1), (2, 'CD-2', 1), (3, 'EF-3', 2);
INSERT INTO car (id, doors) VALUES (1, 4);
INSERT INTO truck (id, payload) VALUES (2, '1200.5');
INSERT INTO node (id, name, parent_id) VALUES (1, 'root', NULL), (2, 'a', 1), (3, 'b', 1), (4, 'c', 2);
INSERT INTO purchase (id, number) VALUES (1, 'PO-1');
INSERT INTO order_line (order_id, line_no, product, quantity) VALUES (1, 1, 'bolt', 10), (1, 2, 'nut', 20)
`

// OpenSampleDB opens an in-memory SQLite database through driver with the
// sample schema and data loaded. It is closed when the test ends.
func OpenSampleDB(t testing.TB, driver string) *store.DB {
	t.Helper()
	db, err := store.OpenMemory(driver)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.ExecScript(ctx, SampleSchema))
	require.NoError(t, db.ExecScript(ctx, SampleData))
	return db
}
