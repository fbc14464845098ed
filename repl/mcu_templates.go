package repl

// Code running on the microcontroller, sent over the wire and executed by
// the raw REPL. These mirror the MicroPython/CircuitPython helper
// functions the engine depends on; BUFFER_SIZE is baked in directly since
// there is no host constant to substitute into the sent source at runtime.

const mcuUIDSource = `
def _uid():
    try:
        import machine
        _id = machine.unique_id()
    except:
        try:
            import microcontroller
            _id = microcontroller.cpu.uid
        except:
            return None
    return ":".join("{:02x}".format(x) for x in _id)
`

const mcuGetTimeSource = `
def _get_time():
    import time
    return tuple(time.localtime())
`

const mcuSetTimeSource = `
def _set_time(st, tolerance=5):
    import time
    host = time.mktime(st)
    local = time.time()
    if abs(host - local) < tolerance:
        return
    try:
        import rtc
        rtc.RTC().datetime = st
    except ImportError:
        import machine
        st = list(st)
        st.insert(3, st[6])
        st[7] = 0
        machine.RTC().datetime(st[:8])
`

const mcuDeviceCharacteristicsSource = `
def _device_characteristics():
    import sys, time
    try:
        sys.stdout.buffer
        sys.stdin.buffer
        has_buffer = True
    except AttributeError:
        has_buffer = False
    try:
        import binascii
        has_binascii = True
        binascii
    except ImportError:
        has_binascii = False
    st = (2000, 1, 1, 0, 0, 0, -1, -1, -1)
    epoch = 946684800 - time.mktime(st)
    return {'has_buffer': has_buffer, 'has_binascii': has_binascii, 'time_offset': epoch}
`

const mcuFileSizeSource = `
def _file_size(filepath):
    import os
    try:
        return os.stat(filepath)[6]
    except:
        return -1
`

const mcuMakedirsSource = `
def _makedirs(path):
    import os
    try:
        os.mkdir(path)
        return True
    except OSError as e:
        if e.args[0] == 2:
            try:
                _makedirs(path[:path.rfind(os.sep)])
                os.mkdir(path)
            except:
                return False
    return True
`

const mcuRmRfSource = `
def _rm_rf(path, recursive):
    import os
    try:
        mode = os.stat(path)[0]
        if mode & 0x4000 != 0:
            if recursive:
                for file in os.listdir(path):
                    success = _rm_rf(path + '/' + file, recursive)
                    if not success:
                        return False
                os.rmdir(path)
        else:
            os.remove(path)
    except:
        return False
    return True
`

const mcuCatSource = `
def _cat(path):
    with open(path) as f:
        while True:
            line = f.readline()
            if not line:
                break
            print(line, end="")
`

const mcuWriteSource = `
def _mcu_write(local_file, remote_file, filesize, binary):
    import sys
    try:
        if binary:
            import binascii
        with open(remote_file, 'wb') as dst_file:
            bytes_remaining = filesize
            if binary: bytes_remaining *= 2
            write_buf = bytearray(254)
            read_buf = bytearray(254)
            while bytes_remaining > 0:
                read_size = min(bytes_remaining, 254)
                buf_remaining = read_size
                buf_index = 0
                while buf_remaining > 0:
                    bytes_read = sys.stdin.readinto(read_buf, bytes_remaining)
                    if bytes_read > 0:
                        write_buf[buf_index:bytes_read] = read_buf[0:bytes_read]
                        buf_index += bytes_read
                        buf_remaining -= bytes_read
                dst_file.write(binascii.unhexlify(write_buf[0:read_size]) if binary else write_buf[0:read_size])
                sys.stdout.write(b'\x06')
                bytes_remaining -= read_size
    except:
        sys.stdout.write(b'\x07')
        raise
`

const mcuReadSource = `
def _mcu_read(remote_file, local_file, filesize):
    import sys
    with open(remote_file, 'rb') as src_file:
        bytes_remaining = filesize
        while bytes_remaining > 0:
            read_size = min(bytes_remaining, 254)
            buf = src_file.read(read_size)
            sys.stdout.buffer.write(buf)
            bytes_remaining -= read_size
            ack = sys.stdin.read(1)
            if ack != '\x06':
                raise ValueError("Expected '\\x06', got '{}'".format(ord(ack)))
`

const mcuListSource = `
def _mcu_list(path, level):
    import os
    t_off = 0
    try:
        import machine
        t_off = 946684800
        machine
    except ImportError:
        pass
    try:
        stat = os.stat(path)
        fsize = stat[6]
        mtime = stat[7] + t_off
        if stat[0] & 0x4000:
            print(" D,{},{},{},0".format(level, repr(path), mtime))
            os.chdir(path)
            for p in os.listdir():
                _mcu_list(p, level + 1)
            try:
                os.chdir('..')
            except:
                pass
        else:
            print(" F,{},{},{},{}".format(level, repr(path), mtime, fsize))
    except:
        pass
`
