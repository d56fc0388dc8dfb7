// Package fetch polls the upstream plant-data API and feeds the work queue.
//
// A gocron duration job fires at a fixed rate, starting immediately. Every
// run hands the HTTP request to its own goroutine, so a slow response never
// delays the next tick and several fetches may overlap.
//
// # Request
//
//	GET <api_url>?tags=<tag1>,<tag2>,...&PWCM_CD=ST&USER_KEY=<key>
//
// # Response
//
// A 200 body is a JSON array of objects whose values are strings (scalars
// are accepted and converted). Each object becomes a record.Record offered
// to the queue without blocking; records rejected by a full queue are
// counted as dropped. Any other status, a transport failure, or an
// undecodable body is logged and recorded as a failed request.
package fetch
