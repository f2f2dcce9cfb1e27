// Package configedit applies allow-listed configuration edits to live
// instances. Each edit run is one unit: snapshot first, rewrite the
// record and env file, restart only the affected containers, verify,
// and roll the whole thing back if the instance stops answering.
package configedit
