// Package matching scores a query embedding against every voice print of one
// backend. Raw cosine similarity is scaled by a bounded temporal decay so a
// print built long before (or after) the query's reference date counts for
// less, but never for less than half.
package matching
