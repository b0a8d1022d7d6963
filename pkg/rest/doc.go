// Package rest generates ReSTful JSON APIs for models.
//
// A Manager mounts one API per model on an httputil.Router. With every method
// enabled, the API for a model exposed as "person" under the default /api
// prefix answers:
//
//	Route                      | Description
//	---------------------------|------------------------------------------------
//	GET    /api/person?q={..}  | Search, see package search for the request format
//	GET    /api/person/{id}    | One instance, 404 when missing
//	POST   /api/person         | Create, 201 {"id": ...}
//	PATCH  /api/person/{id}    | Update one instance, returns it
//	PATCH  /api/person?q={..}  | Update every match, {"num_modified": n}
//	DELETE /api/person/{id}    | Delete, always 204
//	GET    /api/eval/person    | Aggregate functions, when AllowFunctions is set
//
// Relations are expanded one level deep. A PATCH body may carry add and
// remove lists under a relation name, see UpdateRelations.
//
// HTTP headers tune responses:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=minimal         | PATCH answers 204 with no body
//	Prefer: return=representation  | POST answers with the created instance
//	Prefer: return=headers-only    | POST answers with Location only
//	Prefer: count=exact            | Search adds the total to Content-Range
//
// Example usage:
//
//	db, _ := sql.Open("sqlite3", "people.db")
//	m := rest.NewManager(rest.WithSessionFactory(rest.SQLSessions(db, "sqlite3")))
//	if _, err := m.CreateAPI(person, rest.Methods("GET", "POST", "PATCH", "DELETE")); err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(m.Router().ListenAndServe(":8080"))
package rest
