// Package api serves the site backup catalog and storage checks over HTTP.
//
// Every /v1 route requires the X-API-Key header.
package api
