package mocks

//go:generate mockery --name VersionRecorder --srcpkg github.com/aevon-lab/aevon-rollups/internal/catalog --output ./catalog --outpkg catalogmocks --with-expecter
//go:generate mockery --name Recorder --srcpkg github.com/aevon-lab/aevon-rollups/internal/selection --output ./selection --outpkg selectionmocks --with-expecter
//go:generate mockery --name FreshnessChecker --srcpkg github.com/aevon-lab/aevon-rollups/internal/selection --output ./selection --outpkg selectionmocks --with-expecter
