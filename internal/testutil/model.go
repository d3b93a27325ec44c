package testutil

import (
	"sync"

	"github.com/roach88/oql/internal/metamodel"
)

// SampleDefs returns the entity definitions of the sample domain used across
// package tests:
//
//	Company        company       id, name, code (unique), address{street, city},
//	                             staff <- Person.employer,
//	                             partners <-> Company (company_partner)
//	Person         person        id, name, age, balance, active, born,
//	                             employer -> Company (employer_id),
//	                             employerByCode -> Company.code (employer_code),
//	                             pets <- Pet.owner (subselect),
//	                             friends <-> Person (person_friend, batch 4),
//	                             vehicles <- Vehicle.owner
//	Pet            pet           single table on "kind": Dog{barks, tag string},
//	                             Cat{lives, tag integer}; owner -> Person
//	Vehicle        vehicle       joined: Car (car){doors}, Truck (truck){payload};
//	                             owner -> Person
//	Node           node          id, name, parent -> Node, children <- Node.parent
//	PurchaseOrder  purchase      id, number, lines <- OrderLine.purchase
//	OrderLine      order_line    composite id{order_id, line_no}, product,
//	                             quantity, purchase -> PurchaseOrder (order_id)
func SampleDefs() []metamodel.EntityDef {
	return []metamodel.EntityDef{
		{
			Name:  "Company",
			Table: "company",
			ID:    ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("name", "name", metamodel.TypeString),
				metamodel.Basic("code", "code", metamodel.TypeString).NotNull(),
				metamodel.Embedded("address",
					metamodel.Basic("street", "street", metamodel.TypeString),
					metamodel.Basic("city", "city", metamodel.TypeString),
				),
				metamodel.OneToMany("staff", "Person", "employer"),
				metamodel.ManyToMany("partners", "Company", metamodel.JoinTable{
					Table:         "company_partner",
					OwnerColumns:  []string{"company_id"},
					TargetColumns: []string{"partner_id"},
				}),
			},
			UniqueKeys: []metamodel.UniqueKeyDef{{Name: "code", Attributes: []string{"code"}}},
		},
		{
			Name:  "Person",
			Table: "person",
			ID:    ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("name", "name", metamodel.TypeString),
				metamodel.Basic("age", "age", metamodel.TypeInteger),
				metamodel.Basic("balance", "balance", metamodel.TypeDecimal),
				metamodel.Basic("active", "active", metamodel.TypeBoolean),
				metamodel.Basic("born", "born", metamodel.TypeTimestamp),
				metamodel.ToOne("employer", "Company", "employer_id"),
				metamodel.ToOne("employerByCode", "Company", "employer_code").ByUniqueKey("code"),
				metamodel.OneToMany("pets", "Pet", "owner").WithFetch(metamodel.FetchSubselect),
				metamodel.ManyToMany("friends", "Person", metamodel.JoinTable{
					Table:         "person_friend",
					OwnerColumns:  []string{"person_id"},
					TargetColumns: []string{"friend_id"},
				}).WithBatchSize(4),
				metamodel.OneToMany("vehicles", "Vehicle", "owner"),
			},
		},
		{
			Name:                "Pet",
			Table:               "pet",
			Inheritance:         metamodel.SingleTable,
			DiscriminatorColumn: "kind",
			DiscriminatorValue:  "pet",
			ID:                  ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("name", "name", metamodel.TypeString),
				metamodel.ToOne("owner", "Person", "owner_id"),
			},
		},
		{
			Name:               "Dog",
			Extends:            "Pet",
			DiscriminatorValue: "dog",
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("barks", "barks", metamodel.TypeBoolean),
				metamodel.Basic("tag", "dog_tag", metamodel.TypeString),
			},
		},
		{
			Name:               "Cat",
			Extends:            "Pet",
			DiscriminatorValue: "cat",
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("lives", "lives", metamodel.TypeInteger),
				metamodel.Basic("tag", "cat_tag", metamodel.TypeInteger),
			},
		},
		{
			Name:        "Vehicle",
			Table:       "vehicle",
			Inheritance: metamodel.Joined,
			ID:          ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("plate", "plate", metamodel.TypeString),
				metamodel.ToOne("owner", "Person", "owner_id"),
			},
		},
		{
			Name:    "Car",
			Extends: "Vehicle",
			Table:   "car",
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("doors", "doors", metamodel.TypeInteger),
			},
		},
		{
			Name:    "Truck",
			Extends: "Vehicle",
			Table:   "truck",
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("payload", "payload", metamodel.TypeDecimal),
			},
		},
		{
			Name:  "Node",
			Table: "node",
			ID:    ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("name", "name", metamodel.TypeString),
				metamodel.ToOne("parent", "Node", "parent_id"),
				metamodel.OneToMany("children", "Node", "parent"),
			},
		},
		{
			Name:  "PurchaseOrder",
			Table: "purchase",
			ID:    ptr(metamodel.Basic("id", "id", metamodel.TypeInteger)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("number", "number", metamodel.TypeString),
				metamodel.OneToMany("lines", "OrderLine", "purchase").As(metamodel.CollectionList),
			},
		},
		{
			Name:  "OrderLine",
			Table: "order_line",
			ID: ptr(metamodel.Embedded("id",
				metamodel.Basic("orderId", "order_id", metamodel.TypeInteger),
				metamodel.Basic("lineNo", "line_no", metamodel.TypeInteger),
			)),
			Attributes: []metamodel.AttributeDef{
				metamodel.Basic("product", "product", metamodel.TypeString),
				metamodel.Basic("quantity", "quantity", metamodel.TypeInteger),
				metamodel.ToOne("purchase", "PurchaseOrder", "order_id"),
			},
		},
	}
}

var (
	sampleOnce sync.Once
	sample     *metamodel.Metamodel
)

// SampleModel returns the built sample domain. The metamodel is immutable so
// one instance is shared by all tests.
func SampleModel() *metamodel.Metamodel {
	sampleOnce.Do(func() {
		m, err := metamodel.Build(SampleDefs()...)
		if err != nil {
			panic("sample model: " + err.Error())
		}
		sample = m
	})
	return sample
}

// SampleSchema is DDL for the sample domain, valid on SQLite.
const SampleSchema = `
CREATE TABLE company (
	id INTEGER PRIMARY KEY,
	name TEXT,
	code TEXT NOT NULL UNIQUE,
	street TEXT,
	city TEXT
);
CREATE TABLE company_partner (
	company_id INTEGER NOT NULL REFERENCES company(id),
	partner_id INTEGER NOT NULL REFERENCES company(id),
	PRIMARY KEY (company_id, partner_id)
);
CREATE TABLE person (
	id INTEGER PRIMARY KEY,
	name TEXT,
	age INTEGER,
	balance TEXT,
	active INTEGER,
	born TEXT,
	employer_id INTEGER REFERENCES company(id),
	employer_code TEXT REFERENCES company(code)
);
CREATE TABLE person_friend (
	person_id INTEGER NOT NULL REFERENCES person(id),
	friend_id INTEGER NOT NULL REFERENCES person(id),
	PRIMARY KEY (person_id, friend_id)
);
CREATE TABLE pet (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT,
	owner_id INTEGER REFERENCES person(id),
	barks INTEGER,
	dog_tag TEXT,
	lives INTEGER,
	cat_tag INTEGER
);
CREATE TABLE vehicle (
	id INTEGER PRIMARY KEY,
	plate TEXT,
	owner_id INTEGER REFERENCES person(id)
);
CREATE TABLE car (
	id INTEGER PRIMARY KEY REFERENCES vehicle(id),
	doors INTEGER
);
CREATE TABLE truck (
	id INTEGER PRIMARY KEY REFERENCES vehicle(id),
	payload TEXT
);
CREATE TABLE node (
	id INTEGER PRIMARY KEY,
	name TEXT,
	parent_id INTEGER REFERENCES node(id)
);
CREATE TABLE purchase (
	id INTEGER PRIMARY KEY,
	number TEXT
);
CREATE TABLE order_line (
	order_id INTEGER NOT NULL REFERENCES purchase(id),
	line_no INTEGER NOT NULL,
	product TEXT,
	quantity INTEGER,
	PRIMARY KEY (order_id, line_no)
);
`

func ptr[T any](v T) *T { return &v }
