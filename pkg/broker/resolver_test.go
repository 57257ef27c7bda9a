package broker_test

import (
	"context"
	"testing"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/test"
)

type ResolverSuite struct {
	test.Suite

	resolver broker.DefaultResolver
}

func TestResolverSuite(t *testing.T) {
	test.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) TestResolveAnyPassesPayloadThroughVerbatim() {
	var target any
	s.Require().NoError(s.resolver.Resolve(context.Background(), 42, nil, &target))
	s.Equal(42, target)
}

func (s *ResolverSuite) TestResolveStringFastPath() {
	var target string
	s.Require().NoError(s.resolver.Resolve(context.Background(), "hello", nil, &target))
	s.Equal("hello", target)
}

func (s *ResolverSuite) TestResolveBytesFastPath() {
	var target []byte
	s.Require().NoError(s.resolver.Resolve(context.Background(), []byte("raw"), nil, &target))
	s.Equal([]byte("raw"), target)
}

func (s *ResolverSuite) TestResolveStructRoundTripsThroughJSON() {
	type greeting struct {
		Name string `json:"name"`
	}
	payload := map[string]any{"name": "ping"}

	var target greeting
	s.Require().NoError(s.resolver.Resolve(context.Background(), payload, nil, &target))
	s.Equal("ping", target.Name)
}

func (s *ResolverSuite) TestResolveScalarIntoStructFieldByName() {
	type wrapper struct {
		Count int `json:"count"`
	}
	payload := map[string]any{"count": float64(7)}

	var target wrapper
	s.Require().NoError(s.resolver.Resolve(context.Background(), payload, nil, &target))
	s.Equal(7, target.Count)
}

func (s *ResolverSuite) TestResolveFloatScalar() {
	var target float64
	s.Require().NoError(s.resolver.Resolve(context.Background(), 3.5, nil, &target))
	s.Equal(3.5, target)
}
