// Package testsupport holds helpers shared by package tests.
package testsupport
