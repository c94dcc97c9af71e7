// Package model defines the data shared by the harvesting packages: the
// crawl Scope, the acquired Asset, the filename → attribution AssetMap and
// the HarvestResult handed back to callers.
//
// The types carry no behavior beyond bookkeeping so that crawler, acquire,
// report and database can all depend on them without import cycles.
package model
