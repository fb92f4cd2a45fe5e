// Package analyzer builds descriptor models from fixture types.
//
// Struct tags and the values returned by Declare are dispatched to one
// Inspector per metadata kind. Kinds without an inspector are ignored so
// fixtures can carry metadata for newer versions. Conflicts and references
// to providers the registry does not know fail with an api.AnalysisError
// before anything is started.
//
// Results are cached per type. Evict and Reset drop cached models.
package analyzer
