// Package testutil holds fixtures shared by package tests: files written
// into a test's temp directory and the JSON shapes the loaders expect.
//
// Tests that need a real NATS server use natsclient.NewTestClient instead,
// which starts one in a container behind the integration build tag.
package testutil
