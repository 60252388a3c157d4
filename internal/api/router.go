package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	ghandler "github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/graph"
	"github.com/nightfall-hq/gatehouse/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and mounts the GraphQL
// endpoint alongside the operational routes.
func NewRouter(db *gorm.DB, resolver *graph.Resolver, graphiql bool) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver must be provided")
	}

	schema, err := graph.NewSchema(resolver)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SessionToken())

	gql := ghandler.New(&ghandler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: graphiql,
	})
	r.POST("/graphql", gin.WrapH(gql))
	if graphiql {
		r.GET("/graphql", gin.WrapH(gql))
	}

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}
