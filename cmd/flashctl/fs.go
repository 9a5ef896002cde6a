package main

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"

	"stm32hal/hal"
	"stm32hal/ll"
)

type fsCmd struct {
	Pack fsPackCmd `cmd:"" help:"Format a littlefs volume and copy a host directory into it."`
	Ls   fsLsCmd   `cmd:"" help:"List a littlefs volume."`
}

// volume selects the flash window that holds the filesystem.
type volume struct {
	EDATA  bool   `name:"edata" help:"Place the volume in EDATA instead of user flash."`
	Offset uint32 `default:"0" help:"Window offset inside the area, page aligned."`
	Size   uint32 `default:"0" help:"Window size, page aligned. 0 runs to the end of the area."`
}

func (v volume) mount(s *session) (*littlefs.LFS, error) {
	area := ll.AreaUser
	if v.EDATA {
		area = ll.AreaEDATA
	}
	dev, err := hal.NewBlockDevice(s.h, area, v.Offset, v.Size)
	if err != nil {
		return nil, err
	}
	lfs := littlefs.New(dev)
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 512,
		BlockCycles:   100,
	})
	s.log.WithField("area", area).WithField("bytes", dev.Size()).Debug("littlefs volume")
	return lfs, nil
}

type fsPackCmd struct {
	volume

	Src string `arg:"" type:"existingdir" help:"Host directory to import."`
}

func (c *fsPackCmd) Run(g *globals) error {
	var dirs, files []string
	err := filepath.WalkDir(c.Src, func(p string, e fs.DirEntry, err error) error {
		if err != nil || p == c.Src {
			return err
		}
		rel, err := filepath.Rel(c.Src, p)
		if err != nil {
			return err
		}
		switch {
		case e.IsDir():
			dirs = append(dirs, "/"+filepath.ToSlash(rel))
		case e.Type().IsRegular():
			files = append(files, "/"+filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "walk %s", c.Src)
	}
	sort.Strings(dirs)
	sort.Strings(files)

	return withSession(g, func(s *session) error {
		lfs, err := c.mount(s)
		if err != nil {
			return err
		}
		if err := lfs.Format(); err != nil {
			return errors.Wrap(err, "format")
		}
		if err := lfs.Mount(); err != nil {
			return errors.Wrap(err, "mount")
		}
		for _, d := range dirs {
			if err := lfs.Mkdir(d, 0o777); err != nil {
				lfs.Unmount()
				return errors.Wrapf(err, "mkdir %s", d)
			}
		}
		var total int64
		for _, f := range files {
			n, err := copyIn(lfs, filepath.Join(c.Src, filepath.FromSlash(f)), f)
			if err != nil {
				lfs.Unmount()
				return err
			}
			total += n
		}
		if err := lfs.Unmount(); err != nil {
			return errors.Wrap(err, "unmount")
		}
		color.Green("packed %d files, %d directories, %d bytes", len(files), len(dirs), total)
		return nil
	})
}

func copyIn(lfs *littlefs.LFS, hostPath, volPath string) (int64, error) {
	in, err := os.Open(hostPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := lfs.OpenFile(volPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", volPath)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, errors.Wrapf(err, "write %s", volPath)
	}
	return n, errors.Wrapf(out.Close(), "close %s", volPath)
}

type fsLsCmd struct {
	volume

	Dir string `arg:"" optional:"" default:"/" help:"Directory inside the volume."`
}

func (c *fsLsCmd) Run(g *globals) error {
	return withSession(g, func(s *session) error {
		lfs, err := c.mount(s)
		if err != nil {
			return err
		}
		if err := lfs.Mount(); err != nil {
			return errors.Wrap(err, "mount")
		}
		defer lfs.Unmount()
		return list(lfs, c.Dir)
	})
}

func list(lfs *littlefs.LFS, dir string) error {
	d, err := lfs.OpenFile(dir, os.O_RDONLY)
	if err != nil {
		return errors.Wrapf(err, "open %s", dir)
	}
	entries, err := readdir(d)
	d.Close()
	if err != nil {
		return errors.Wrapf(err, "readdir %s", dir)
	}
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		p := path.Join(dir, name)
		if e.IsDir() {
			color.Blue("%s/", p)
			if err := list(lfs, p); err != nil {
				return err
			}
			continue
		}
		color.White("%8d  %s", e.Size(), p)
	}
	return nil
}

func readdir(f tinyfs.File) ([]os.FileInfo, error) {
	if !f.IsDir() {
		return nil, errors.New("not a directory")
	}
	return f.Readdir(0)
}
