// Package archive copies terminal runs out of the ledger store into blob
// storage
package archive
