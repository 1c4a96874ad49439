package integration_tests

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAIHubIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AI Hub Integration Suite")
}
